// Registers:
//
//	#fuelflow_analyses_total{outcome}
//	#fuelflow_analysis_duration_seconds
//	#fuelflow_events_total{kind}
//	#fuelflow_sink_writes_total{sink,status}
//	#fuelflow_buffer_length{buffer}
//	#fuelflow_http_requests_total{route,code}
//	#go_* and process_* system metrics
//
// Handler exposes them for the API router; Serve runs a standalone listener
// when the API is disabled.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fuelflow/logger"
)

var (
	once             sync.Once
	registry         *prometheus.Registry
	analyses         *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	events           *prometheus.CounterVec
	sinkWrites       *prometheus.CounterVec
	bufferLength     *prometheus.GaugeVec
	httpRequests     *prometheus.CounterVec
)

func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		analyses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelflow_analyses_total",
				Help: "Number of device analyses by outcome",
			},
			[]string{"outcome"},
		)
		analysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fuelflow_analysis_duration_seconds",
			Help:    "Time spent calibrating, smoothing and segmenting one batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		})
		events = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelflow_events_total",
				Help: "Number of detected fuel events",
			},
			[]string{"kind"},
		)
		sinkWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelflow_sink_writes_total",
				Help: "Result batches handed to a sink",
			},
			[]string{"sink", "status"},
		)
		bufferLength = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuelflow_buffer_length",
				Help: "Current occupancy of pipeline channels",
			},
			[]string{"buffer"},
		)
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelflow_http_requests_total",
				Help: "HTTP requests served by the query API",
			},
			[]string{"route", "code"},
		)

		registry.MustRegister(analyses, analysisDuration, events, sinkWrites, bufferLength, httpRequests)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler returns the Prometheus scrape handler, initialising collectors on
// first use.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"address": addr}).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveAnalysis records one analysis outcome and how long it took.
func ObserveAnalysis(outcome string, duration time.Duration) {
	if analyses == nil {
		return
	}
	analyses.WithLabelValues(outcome).Inc()
	analysisDuration.Observe(duration.Seconds())
}

func IncrementEvent(kind string) {
	if events != nil {
		events.WithLabelValues(kind).Inc()
	}
}

func IncrementSinkWrite(sink string, ok bool) {
	if sinkWrites == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	sinkWrites.WithLabelValues(sink, status).Inc()
}

func SetBufferLength(buffer string, n int) {
	if bufferLength != nil {
		bufferLength.WithLabelValues(buffer).Set(float64(n))
	}
}

func IncrementHTTPRequest(route string, code int) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}
