// Package writer persists analysis results to the configured sinks.
package writer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fuelflow/config"
	"fuelflow/internal/channel"
	"fuelflow/internal/metrics"
	"fuelflow/logger"
	"fuelflow/models"
)

// Sink stores one result batch and reports how many bytes it wrote.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch models.ResultBatch) (int64, error)
	Close() error
}

type sinkStats struct {
	batches int64
	objects int64
	bytes   int64
	errors  int64
}

// Dispatcher drains the result channel and fans every batch out to all
// sinks. A failing sink does not stop the others.
type Dispatcher struct {
	config   *config.Config
	channels *channel.Channels
	sinks    []Sink
	stats    map[string]*sinkStats
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewDispatcher(cfg *config.Config, ch *channel.Channels, sinks ...Sink) *Dispatcher {
	stats := make(map[string]*sinkStats, len(sinks))
	for _, s := range sinks {
		stats[s.Name()] = &sinkStats{}
	}
	return &Dispatcher{
		config:   cfg,
		channels: ch,
		sinks:    sinks,
		stats:    stats,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	numWorkers := d.config.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	log := d.log.WithComponent("dispatcher").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"workers": numWorkers, "sinks": names}).Info("starting result dispatcher")
	if len(d.sinks) == 0 {
		log.Warn("no sinks configured; results are discarded")
	}

	for i := 0; i < numWorkers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	go d.metricsReporter(ctx)
	return nil
}

// Stop waits for the workers and closes every sink.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	d.log.WithComponent("dispatcher").Info("stopping result dispatcher")
	d.wg.Wait()
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.log.WithComponent("dispatcher").WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Warn("failed to close sink")
		}
	}
	d.reportMetrics()
	d.log.WithComponent("dispatcher").Info("result dispatcher stopped")
}

func (d *Dispatcher) worker(workerID int) {
	defer d.wg.Done()

	log := d.log.WithComponent("dispatcher").WithFields(logger.Fields{"worker_id": workerID})
	for {
		select {
		case <-d.ctx.Done():
			return
		case batch, ok := <-d.channels.Result:
			if !ok {
				log.Info("result channel closed, worker stopping")
				return
			}
			d.Dispatch(context.WithoutCancel(d.ctx), batch)
		}
	}
}

// Dispatch writes batch to every sink and returns how many succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, batch models.ResultBatch) int {
	ok := 0
	for _, s := range d.sinks {
		stats := d.stats[s.Name()]
		log := d.log.WithComponent(s.Name()).WithFields(logger.Fields{
			"batch_id": batch.BatchID,
			"device":   batch.DeviceID,
		})

		start := time.Now()
		size, err := s.Write(ctx, batch)
		metrics.IncrementSinkWrite(s.Name(), err == nil)
		if err != nil {
			atomic.AddInt64(&stats.errors, 1)
			log.WithError(err).Error("failed to write result batch")
			continue
		}
		ok++
		atomic.AddInt64(&stats.batches, 1)
		atomic.AddInt64(&stats.objects, 1)
		atomic.AddInt64(&stats.bytes, size)
		logger.IncrementSinkWrite(s.Name(), size)
		logger.LogPerformanceEntry(log, s.Name(), "write_batch", time.Since(start), logger.Fields{"bytes": size})
		logger.LogDataFlowEntry(log, "result_channel", s.Name(), batch.RecordCount, "result_batch")
	}
	return ok
}

func (d *Dispatcher) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reportMetrics()
		}
	}
}

func (d *Dispatcher) reportMetrics() {
	for name, s := range d.stats {
		metrics.ReportWriter(d.log, name, d.statsFor(s))
	}
}

func (d *Dispatcher) statsFor(s *sinkStats) metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten:   atomic.LoadInt64(&s.batches),
		ObjectsWritten:   atomic.LoadInt64(&s.objects),
		BytesWritten:     atomic.LoadInt64(&s.bytes),
		ErrorsCount:      atomic.LoadInt64(&s.errors),
		ResultChannelLen: len(d.channels.Result),
		ResultChannelCap: cap(d.channels.Result),
	}
}

// Stats returns the counters of one sink.
func (d *Dispatcher) Stats(sink string) (metrics.WriterStats, bool) {
	s, ok := d.stats[sink]
	if !ok {
		return metrics.WriterStats{}, false
	}
	return d.statsFor(s), true
}
