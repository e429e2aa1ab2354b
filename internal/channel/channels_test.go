package channel

import (
	"context"
	"testing"
	"time"

	"fuelflow/models"
)

func TestSendRawDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()
	ctx := context.Background()

	if !c.SendRaw(ctx, models.RawBatch{DeviceID: "a"}) {
		t.Fatalf("first send should succeed")
	}
	if c.SendRaw(ctx, models.RawBatch{DeviceID: "b"}) {
		t.Fatalf("second send should be dropped")
	}

	stats := c.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := <-c.Raw; got.DeviceID != "a" {
		t.Fatalf("unexpected batch %q", got.DeviceID)
	}
}

func TestSendResultHonoursCancelledContext(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.SendResult(ctx, models.ResultBatch{DeviceID: "a"}) {
		t.Fatalf("send on cancelled context should fail")
	}
	if stats := c.GetStats(); stats.ResultSent != 0 || stats.ResultDropped != 0 {
		t.Fatalf("cancelled send should not be counted: %+v", stats)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewChannels(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	c.startReporting(ctx, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	c.Close()
	c.Close()
	if _, ok := <-c.Raw; ok {
		t.Fatalf("raw channel should be closed")
	}
}
