package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fuelflow/config"
	"fuelflow/internal/channel"
	"fuelflow/logger"
	"fuelflow/models"
)

// Poller periodically loads the lookback window of every configured device
// and sends it to the raw channel as one batch per device.
type Poller struct {
	config   *config.Config
	store    Store
	channels *channel.Channels
	devices  []string
	now      func() time.Time

	ctx     context.Context
	jobs    chan string
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewPoller(cfg *config.Config, store Store, ch *channel.Channels, devices []string) *Poller {
	log := logger.GetLogger()
	p := &Poller{
		config:   cfg,
		store:    store,
		channels: ch,
		devices:  devices,
		now:      time.Now,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("poller").WithFields(logger.Fields{
		"devices":       len(devices),
		"poll_interval": cfg.Reader.PollInterval,
		"max_workers":   cfg.Reader.MaxWorkers,
		"lookback":      cfg.Analysis.Lookback,
	}).Info("poller initialized")

	return p
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.jobs = make(chan string, len(p.devices))
	p.mu.Unlock()

	log := p.log.WithComponent("poller").WithFields(logger.Fields{"operation": "Start"})
	if len(p.devices) == 0 {
		log.Warn("no devices configured; poller idle")
	}

	for i := 0; i < p.config.Reader.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.schedule()

	log.Info("poller started")
	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("poller").Info("stopping poller")
	p.wg.Wait()
	p.log.WithComponent("poller").Info("poller stopped")
}

// schedule enqueues every device once immediately and then on each interval
// boundary. A device still queued from the last round is not added again.
func (p *Poller) schedule() {
	defer p.wg.Done()
	defer close(p.jobs)

	interval := p.config.Reader.PollInterval
	p.enqueueAll()

	now := time.Now()
	timer := time.NewTimer(now.Truncate(interval).Add(interval).Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
			start := time.Now()
			p.enqueueAll()
			timer.Reset(time.Until(start.Truncate(interval).Add(interval)))
		}
	}
}

func (p *Poller) enqueueAll() {
	skipped := 0
	for _, id := range p.devices {
		select {
		case p.jobs <- id:
		default:
			skipped++
		}
	}
	if skipped > 0 {
		p.log.WithComponent("poller").WithFields(logger.Fields{
			"skipped": skipped,
		}).Warn("previous poll round still in progress")
	}
}

func (p *Poller) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case device, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.PollDevice(p.ctx, device); err != nil {
				p.log.WithComponent("poller").WithError(err).WithFields(logger.Fields{
					"device": device,
					"worker": id,
				}).Warn("device poll failed")
			}
		}
	}
}

// PollDevice loads one device's fuel window and sends it downstream.
func (p *Poller) PollDevice(ctx context.Context, deviceID string) error {
	batch, err := p.ReadBatch(ctx, deviceID)
	if err != nil {
		return err
	}
	if len(batch.Samples) == 0 {
		p.log.WithComponent("poller").WithFields(logger.Fields{"device": deviceID}).Debug("no samples in window")
		return nil
	}
	if !p.channels.SendRaw(ctx, *batch) {
		return fmt.Errorf("raw channel full or closed, batch %s dropped", batch.BatchID)
	}
	logger.LogDataFlowEntry(p.log.WithComponent("poller"), "postgres", "raw_channel", len(batch.Samples), "raw_batch")
	return nil
}

// ReadBatch loads calibration and fuel samples for the lookback window
// ending now, retrying transient store errors.
func (p *Poller) ReadBatch(ctx context.Context, deviceID string) (*models.RawBatch, error) {
	to := p.now().UTC()
	from := to.Add(-p.config.Analysis.Lookback)

	var (
		points  []models.CalibrationPoint
		samples []models.RawSample
	)
	start := time.Now()
	err := withRetry(ctx, p.config.Reader.Retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.config.Reader.Timeout)
		defer cancel()

		var err error
		if points, err = p.store.CalibrationPoints(ctx, deviceID); err != nil {
			return err
		}
		samples, err = p.store.Samples(ctx, deviceID, models.SignalFuel, from, to)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read device %s: %w", deviceID, err)
	}

	logger.IncrementBatchRead(len(samples))
	logger.LogPerformanceEntry(p.log.WithComponent("poller"), "poller", "read_batch", time.Since(start), logger.Fields{
		"device":  deviceID,
		"samples": len(samples),
		"points":  len(points),
	})

	return &models.RawBatch{
		BatchID:     uuid.NewString(),
		DeviceID:    deviceID,
		Signal:      models.SignalFuel,
		From:        from,
		To:          to,
		Calibration: points,
		Samples:     samples,
		ReadAt:      time.Now().UTC(),
	}, nil
}
