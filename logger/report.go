package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

type componentStat struct {
	warns  int64
	errors int64
}

var (
	batchesRead     int64
	samplesRead     int64
	analysesOK      int64
	analysesFailed  int64
	eventsDetected  int64
	sinkWrites      int64
	components      sync.Map // map[string]*componentStat
	channels        sync.Map // map[string]*channelStat
	metricPrefix    = "Fuelflow-"
	reportStartTime = time.Now()
)

func componentFor(name string) *componentStat {
	v, _ := components.LoadOrStore(name, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentFor(component).errors, 1)
}

// IncrementBatchRead counts one device batch pulled from the telemetry store.
func IncrementBatchRead(samples int) {
	atomic.AddInt64(&batchesRead, 1)
	atomic.AddInt64(&samplesRead, int64(samples))
	recordChannel("telemetry_read", samples)
}

// IncrementAnalysis counts one finished analysis and the events it produced.
func IncrementAnalysis(ok bool, events int) {
	if !ok {
		atomic.AddInt64(&analysesFailed, 1)
		return
	}
	atomic.AddInt64(&analysesOK, 1)
	atomic.AddInt64(&eventsDetected, int64(events))
}

// IncrementSinkWrite counts one object or message handed to a result sink.
func IncrementSinkWrite(sink string, size int64) {
	atomic.AddInt64(&sinkWrites, 1)
	recordChannel("sink_"+sink, int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// Counters returns the pipeline counters as they would appear in the report.
func Counters() Fields {
	return Fields{
		"batches_read":    atomic.LoadInt64(&batchesRead),
		"samples_read":    atomic.LoadInt64(&samplesRead),
		"analyses_ok":     atomic.LoadInt64(&analysesOK),
		"analyses_failed": atomic.LoadInt64(&analysesFailed),
		"events_detected": atomic.LoadInt64(&eventsDetected),
		"sink_writes":     atomic.LoadInt64(&sinkWrites),
	}
}

// ComponentCounts returns warn and error totals recorded for a component.
func ComponentCounts(component string) (warns, errors int64) {
	v, ok := components.Load(component)
	if !ok {
		return 0, 0
	}
	cs := v.(*componentStat)
	return atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors)
}

// StartReport logs host and pipeline statistics every interval until ctx is
// cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsed, diskUsed, bytesSent, bytesRecv uint64
	if m, err := mem.VirtualMemory(); err == nil {
		memUsed = m.Used
	}
	if d, err := disk.Usage("/"); err == nil {
		diskUsed = d.Used
	}
	if n, err := gnet.IOCounters(false); err == nil && len(n) > 0 {
		bytesSent, bytesRecv = n[0].BytesSent, n[0].BytesRecv
	}

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	componentData := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		componentData[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	fields := Counters()
	fields["uptime_s"] = int64(time.Since(reportStartTime).Seconds())
	fields["goroutines"] = runtime.NumGoroutine()
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memUsed / 1024 / 1024)
	fields["disk_mb"] = int64(diskUsed / 1024 / 1024)
	fields["net_bytes_sent"] = int64(bytesSent)
	fields["net_bytes_recv"] = int64(bytesRecv)
	fields["channels"] = channelData
	fields["components"] = componentData

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(metricPrefix + name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(fields[key].(int64))),
		}
	}
	data := []cwtypes.MetricDatum{
		{MetricName: aws.String(metricPrefix + "CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String(metricPrefix + "MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String(metricPrefix + "DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String(metricPrefix + "NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String(metricPrefix + "NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
		count("BatchesRead", "batches_read"),
		count("SamplesRead", "samples_read"),
		count("AnalysesOK", "analyses_ok"),
		count("AnalysesFailed", "analyses_failed"),
		count("EventsDetected", "events_detected"),
		count("SinkWrites", "sink_writes"),
	}

	for name, stats := range componentData {
		dims := []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String(metricPrefix + "Warns"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["warns"]))},
			cwtypes.MetricDatum{MetricName: aws.String(metricPrefix + "Errors"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["errors"]))},
		)
	}
	for name, stats := range channelData {
		dims := []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String(metricPrefix + "ChannelMessages"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["messages"]))},
			cwtypes.MetricDatum{MetricName: aws.String(metricPrefix + "ChannelBytes"), Unit: cwtypes.StandardUnitBytes, Dimensions: dims, Value: aws.Float64(float64(stats["bytes"]))},
		)
	}

	publishMetrics(ctx, data)
}
