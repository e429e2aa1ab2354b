package channel

import (
	"context"
	"sync"
	"time"

	"fuelflow/logger"
	"fuelflow/models"
)

type ChannelStats struct {
	RawSent        int64
	ResultSent     int64
	RawDropped     int64
	ResultDropped  int64
	LastRawSent    time.Time
	LastResultSent time.Time
}

// Channels connects the reader, processor and writer stages. Sends never
// block: a full buffer drops the batch and counts it.
type Channels struct {
	Raw    chan models.RawBatch
	Result chan models.ResultBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, resultBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:    make(chan models.RawBatch, rawBufferSize),
		Result: make(chan models.ResultBatch, resultBufferSize),
		log:    log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":    rawBufferSize,
		"result_buffer_size": resultBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Raw)
		close(c.Result)
		c.log.WithComponent("channels").Info("channels closed")
	})
}

func (c *Channels) SendRaw(ctx context.Context, batch models.RawBatch) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case c.Raw <- batch:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.stats.LastRawSent = time.Now()
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("raw", len(batch.Samples))
		return true
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) SendResult(ctx context.Context, batch models.ResultBatch) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case c.Result <- batch:
		c.statsMutex.Lock()
		c.stats.ResultSent++
		c.stats.LastResultSent = time.Now()
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("result", len(batch.Events))
		return true
	default:
		c.statsMutex.Lock()
		c.stats.ResultDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs buffer occupancy and send counters every 30s.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.startReporting(ctx, 30*time.Second)
}

func (c *Channels) startReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logStats()
			}
		}
	}()
}

func (c *Channels) logStats() {
	stats := c.GetStats()
	c.log.WithComponent("channels").WithFields(logger.Fields{
		"raw_sent":       stats.RawSent,
		"raw_dropped":    stats.RawDropped,
		"result_sent":    stats.ResultSent,
		"result_dropped": stats.ResultDropped,
		"raw_len":        len(c.Raw),
		"raw_cap":        cap(c.Raw),
		"result_len":     len(c.Result),
		"result_cap":     cap(c.Result),
	}).Info("channel statistics")
}
