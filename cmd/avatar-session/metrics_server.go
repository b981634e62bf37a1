package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// metricsServer exposes the session metrics for scraping.
type metricsServer struct {
	server *http.Server
	addr   string
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &metricsServer{
		addr: addr,
		server: &http.Server{
			Addr:              addr,
			Handler:           otelhttp.NewHandler(mux, "metrics"),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (s *metricsServer) Start() {
	go func() {
		slog.Info("serving metrics", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

func (s *metricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
