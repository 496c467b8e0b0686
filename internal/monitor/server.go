// Package monitor exposes the HTTP observation surface: liveness, runtime
// statistics and the Prometheus scrape endpoint.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"hyperflow/config"
	"hyperflow/internal/events"
	"hyperflow/internal/integrity"
	"hyperflow/internal/metrics"
	"hyperflow/internal/session"
	"hyperflow/logger"
)

// healthResponse is the /healthz document.
type healthResponse struct {
	Status            string `json:"status"`
	State             string `json:"state"`
	LastMessageTime   string `json:"last_message_time"`
	TotalMessages     uint64 `json:"total_messages"`
	TotalTrades       uint64 `json:"total_trades"`
	ReconnectCount    int    `json:"reconnect_count"`
	DuplicateTrades   uint64 `json:"duplicate_trades"`
	InvalidTimestamps uint64 `json:"invalid_timestamps"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	Timestamp         string `json:"timestamp"`
}

// Server serves the monitoring endpoints next to the websocket client.
type Server struct {
	cfg     config.MonitorConfig
	session *session.Session
	tracker *integrity.Tracker
	bus     *events.Bus
	log     *logger.Log
}

func NewServer(cfg config.MonitorConfig, sess *session.Session, tracker *integrity.Tracker, bus *events.Bus) *Server {
	return &Server{
		cfg:     cfg,
		session: sess,
		tracker: tracker,
		bus:     bus,
		log:     logger.GetLogger(),
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := s.log.WithComponent("monitor")

	srv := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{"address": s.cfg.ListenURL()}).Info("monitor server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("monitor server shutdown failed")
		return err
	}
	log.Info("monitor server stopped")
	return nil
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/api/stats", s.handleStats)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.session.Snapshot()
	integ := s.tracker.Snapshot()

	status := "healthy"
	code := http.StatusOK
	if !snap.Connected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	var lastMsg string
	if !snap.LastMessage.IsZero() {
		lastMsg = snap.LastMessage.UTC().Format(time.RFC3339Nano)
	}

	c.JSON(code, healthResponse{
		Status:            status,
		State:             snap.State,
		LastMessageTime:   lastMsg,
		TotalMessages:     snap.TotalMessages,
		TotalTrades:       snap.TotalTrades,
		ReconnectCount:    snap.Reconnects,
		DuplicateTrades:   integ.DuplicateTrades,
		InvalidTimestamps: integ.InvalidTimestamps,
		UptimeSeconds:     int64(time.Since(snap.StartTime).Seconds()),
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	snap := s.session.Snapshot()
	integ := s.tracker.Snapshot()
	busStats := s.bus.Stats()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sys := gin.H{
		"goroutines":     runtime.NumGoroutine(),
		"heap_alloc_mb":  memStats.HeapAlloc / 1024 / 1024,
		"total_alloc_mb": memStats.TotalAlloc / 1024 / 1024,
		"gc_cycles":      memStats.NumGC,
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sys["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sys["memory_percent"] = vm.UsedPercent
	}

	c.JSON(http.StatusOK, gin.H{
		"session":   snap,
		"integrity": integ,
		"bus": gin.H{
			"published": busStats.Published,
			"dropped":   busStats.Dropped,
		},
		"system":    sys,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
