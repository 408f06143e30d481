package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trackwatch/internal/core"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

func NewServer(config *core.ServerConfig, metrics *Metrics, logger *zap.Logger) *Server {
	mux := setupRoutes(logger, metrics.Registry())

	return &Server{
		config:  config,
		logger:  logger,
		server:  createHTTPServer(config, mux),
		metrics: metrics,
	}
}

func createHTTPServer(config *core.ServerConfig, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(logger *zap.Logger, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", jsonHandler(logger, `{"status":"ok","service":"trackwatch"}`))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", homeHandler(logger))

	return mux
}

func jsonHandler(logger *zap.Logger, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(body)); err != nil {
			logger.Debug("Failed to write response", zap.Error(err))
		}
	}
}

func homeHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>trackwatch</title>
</head>
<body>
    <h1>trackwatch</h1>
    <p>Playlist availability scanner</p>
    <ul>
        <li><a href="/metrics">Metrics</a></li>
        <li><a href="/healthz">Health</a></li>
    </ul>
</body>
</html>`)); err != nil {
			logger.Debug("Failed to write response", zap.Error(err))
		}
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}
