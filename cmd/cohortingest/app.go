package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cohortingest/internal/blob"
	"cohortingest/internal/config"
	"cohortingest/internal/core"
	"cohortingest/internal/observability"
	"cohortingest/internal/platform/logger"
	"cohortingest/pkg/domain"
)

// rootOptions carries the persistent flags.
type rootOptions struct {
	configPath  string
	verbose     bool
	metricsAddr string
}

// app owns the resources shared by one command invocation.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *observability.PrometheusRecorder
	stdout  io.Writer
	closers []func(context.Context) error
}

func openApp(ctx context.Context, opts rootOptions, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Verbose || opts.verbose)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, stdout: stdout}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	a.metrics, err = observability.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr, reg); err != nil {
			return nil, err
		}
	}

	if cfg.Tracing.Writer == nil {
		cfg.Tracing.Writer = stderr
	}
	shutdown, err := observability.SetupTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)
	return a, nil
}

func (a *app) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", ln.Addr().String())
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

func (a *app) rawStore(ctx context.Context) (blob.Store, error) {
	s, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open raw container: %w", err)
	}
	return s, nil
}

func (a *app) clinicalStore(ctx context.Context) (blob.Store, error) {
	s, err := blob.Open(ctx, a.cfg.ClinicalBlob)
	if err != nil {
		return nil, fmt.Errorf("open clinical container: %w", err)
	}
	return s, nil
}

func (a *app) recordStore(ctx context.Context) (domain.RecordStore, error) {
	s, err := core.OpenRecordStore(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	return s, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("shutdown step failed", "error", err)
		}
	}
	a.log.Sync()
}
