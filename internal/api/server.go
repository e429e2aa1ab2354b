// Package api serves fuel analyses to chart and report collaborators over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fuelflow/config"
	"fuelflow/internal/analysis"
	"fuelflow/internal/metrics"
	"fuelflow/internal/session"
	"fuelflow/logger"
	"fuelflow/reader"
)

const (
	debugHistory   = 200
	sampleInterval = 5 * time.Second
)

type Server struct {
	cfg      config.APIConfig
	lookback time.Duration
	options  analysis.Options
	store    reader.Store
	sessions session.Store
	log      *logger.Log

	metricBuf     *metricBuffer
	logBuf        *logBuffer
	metricHandler metrics.MetricHandlerID
	sampler       *hostSampler
	limiter       *clientLimiter
	httpServer    *http.Server
	now           func() time.Time
}

// NewServer returns nil when the API is disabled. A nil sessions store
// falls back to an in-process one.
func NewServer(cfg *config.Config, store reader.Store, sessions session.Store, log *logger.Log) (*Server, error) {
	if !cfg.API.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, errors.New("api requires a telemetry store")
	}
	if sessions == nil {
		sessions = session.NewMemoryStore(cfg.Storage.Redis.TTL)
	}

	apiCfg := cfg.API
	apiCfg.Address = normalizeAddress(apiCfg.Address)

	metricBuf := newMetricBuffer(debugHistory)
	logBuf := newLogBuffer(debugHistory, logrus.InfoLevel)
	log.AddHook(logBuf)

	return &Server{
		cfg:           apiCfg,
		lookback:      cfg.Analysis.Lookback,
		options:       cfg.Analysis.Options(),
		store:         store,
		sessions:      sessions,
		log:           log,
		metricBuf:     metricBuf,
		logBuf:        logBuf,
		metricHandler: metrics.RegisterMetricHandler(metricBuf.handle),
		sampler:       newHostSampler(debugHistory, sampleInterval, "/", log),
		limiter:       newClientLimiter(apiCfg.RateLimit),
		now:           time.Now,
	}, nil
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter()
	if err != nil {
		return err
	}
	s.sampler.start(ctx)
	if s.limiter != nil {
		go s.pruneLimiter(ctx)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("query api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logBuf.close()
	s.sampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.prune()
		}
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1", s.limiter.middleware(), requestTimeout(s.cfg.Timeout))
	v1.GET("/devices", s.listDevices)
	v1.GET("/devices/:id/fuel", s.deviceFuel)
	v1.GET("/devices/:id/speed", s.deviceSpeed)
	v1.POST("/analyses", s.analyzePayload)

	v1.GET("/sessions/:id", s.getSession)
	v1.DELETE("/sessions/:id", s.deleteSession)
	v1.PUT("/sessions/:id/range", s.putSessionRange)
	v1.PUT("/sessions/:id/devices/:device", s.queueSessionDevice)
	v1.GET("/sessions/:id/fuel/:device", s.sessionFuel)

	debug := router.Group("/debug")
	debug.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"metrics": s.metricBuf.snapshot()})
	})
	debug.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logBuf.snapshot()})
	})
	debug.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.sampler.samples.snapshot()})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if net.ParseIP(addr) != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
