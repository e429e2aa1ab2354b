// Package processor turns raw device batches into smoothed volume series and
// fuel events.
package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fuelflow/config"
	"fuelflow/internal/analysis"
	"fuelflow/internal/channel"
	"fuelflow/internal/metrics"
	"fuelflow/logger"
	"fuelflow/models"
)

type Analyzer struct {
	config   *config.Config
	options  analysis.Options
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	batchesAnalyzed int64
	noData          int64
	cannotCompute   int64
	failed          int64
	eventsDetected  int64
}

func NewAnalyzer(cfg *config.Config, ch *channel.Channels) *Analyzer {
	return &Analyzer{
		config:   cfg,
		options:  cfg.Analysis.Options(),
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (a *Analyzer) Start(ctx context.Context) error {
	if err := a.options.Policy.Validate(); err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("analyzer already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	numWorkers := a.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	log := a.log.WithComponent("analyzer").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"workers":          numWorkers,
		"frac":             a.options.Smoothing.Frac,
		"iterations":       a.options.Smoothing.Iterations,
		"threshold":        a.options.Policy.Threshold,
		"max_drain_window": a.options.Policy.MaxDrainWindow,
	}).Info("starting analyzer workers")

	for i := 0; i < numWorkers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}

	go a.metricsReporter(ctx)

	log.Info("analyzer started")
	return nil
}

func (a *Analyzer) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("analyzer").Info("stopping analyzer")
	a.wg.Wait()
	a.reportMetrics()
	a.log.WithComponent("analyzer").Info("analyzer stopped")
}

func (a *Analyzer) worker(workerID int) {
	defer a.wg.Done()

	log := a.log.WithComponent("analyzer").WithFields(logger.Fields{"worker_id": workerID})
	for {
		select {
		case <-a.ctx.Done():
			return
		case batch, ok := <-a.channels.Raw:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}
			result, err := a.Process(a.ctx, batch)
			if err != nil {
				continue
			}
			if !a.channels.SendResult(a.ctx, *result) {
				metrics.EmitDropMetric(a.log, metrics.DropMetricResult, batch.DeviceID, "analyzer")
				log.WithFields(logger.Fields{
					"batch_id": batch.BatchID,
					"device":   batch.DeviceID,
				}).Warn("result channel full, batch dropped")
				continue
			}
			logger.LogDataFlowEntry(log, "raw_channel", "result_channel", len(result.Events), "events")
		}
	}
}

// Process analyses one raw batch under the configured batch timeout. Errors
// are classified, counted and logged before being returned.
func (a *Analyzer) Process(ctx context.Context, batch models.RawBatch) (*models.ResultBatch, error) {
	log := a.log.WithComponent("analyzer").WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"device":   batch.DeviceID,
		"samples":  len(batch.Samples),
	})

	if a.config.Processor.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Processor.BatchTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := analysis.AnalyzeContext(ctx, batch.Calibration, batch.Samples, a.options)
	duration := time.Since(start)

	outcome := analysis.Classify(err)
	metrics.ObserveAnalysis(outcome.Message(), duration)
	if err != nil {
		logger.IncrementAnalysis(false, 0)
		switch outcome {
		case analysis.OutcomeNoData:
			atomic.AddInt64(&a.noData, 1)
			log.WithError(err).Debug(outcome.Message())
		case analysis.OutcomeCannotCompute:
			atomic.AddInt64(&a.cannotCompute, 1)
			log.WithError(err).Warn(outcome.Message())
		default:
			atomic.AddInt64(&a.failed, 1)
			log.WithError(err).Error(outcome.Message())
		}
		return nil, err
	}

	atomic.AddInt64(&a.batchesAnalyzed, 1)
	atomic.AddInt64(&a.eventsDetected, int64(len(res.Events)))
	logger.IncrementAnalysis(true, len(res.Events))
	for _, e := range res.Events {
		metrics.IncrementEvent(e.Kind.String())
		log.WithFields(logger.Fields{
			"kind":      e.Kind.String(),
			"magnitude": e.Magnitude,
			"anchor":    e.AnchorTime(),
		}).Info(e.Label())
	}

	logger.LogPerformanceEntry(log, "analyzer", "analyze_batch", duration, logger.Fields{
		"events": len(res.Events),
	})

	return &models.ResultBatch{
		BatchID:     batch.BatchID,
		DeviceID:    batch.DeviceID,
		Signal:      batch.Signal,
		From:        batch.From,
		To:          batch.To,
		Series:      res.Series,
		Events:      res.Events,
		RecordCount: len(res.Series),
		ProcessedAt: time.Now().UTC(),
	}, nil
}

func (a *Analyzer) Stats() metrics.AnalyzerStats {
	return metrics.AnalyzerStats{
		BatchesAnalyzed: atomic.LoadInt64(&a.batchesAnalyzed),
		NoData:          atomic.LoadInt64(&a.noData),
		CannotCompute:   atomic.LoadInt64(&a.cannotCompute),
		Failed:          atomic.LoadInt64(&a.failed),
		EventsDetected:  atomic.LoadInt64(&a.eventsDetected),
		RawChannelLen:   len(a.channels.Raw),
		RawChannelCap:   cap(a.channels.Raw),
	}
}

func (a *Analyzer) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reportMetrics()
		}
	}
}

func (a *Analyzer) reportMetrics() {
	metrics.ReportAnalyzer(a.log, a.Stats())
}
