package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const systemMetricsInterval = 15 * time.Second

// Server is the HTTP server that exposes Prometheus metrics.
type Server struct {
	config  *config.MetricsConfig
	metrics *Metrics
	log     *logger.Logger
	server  *http.Server
}

// NewServer creates a new metrics server.
func NewServer(cfg *config.MetricsConfig, m *Metrics, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		metrics: m,
		log:     log,
	}

	s.server = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the mux serving the metrics path and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.config.Path, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		ErrorLog:      zapErrorLog{s.log},
		ErrorHandling: promhttp.ContinueOnError,
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Run serves metrics and refreshes system metrics until ctx is cancelled.
// A disabled server returns immediately.
func (s *Server) Run(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	go s.updateSystemMetrics(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Starting metrics server on %s%s", s.config.ListenAddress, s.config.Path)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.log.Info("Metrics server stopped")
	return nil
}

// updateSystemMetrics periodically updates system-level metrics.
func (s *Server) updateSystemMetrics(ctx context.Context) {
	s.metrics.UpdateSystemMetrics()

	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.metrics.UpdateSystemMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// zapErrorLog adapts the logger to promhttp.Logger.
type zapErrorLog struct {
	log *logger.Logger
}

func (z zapErrorLog) Println(v ...any) {
	z.log.Error(v...)
}
