// Package agent runs the periodic background work of a device: reconciling
// the catch history with the remote collection, refreshing the reference
// lists, and serving Prometheus metrics.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"fishlog/internal/core"
	"fishlog/pkg/domain"
)

// Reconciler pulls the remote history into the local store.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Refresher reloads one reference list.
type Refresher interface {
	Refresh(ctx context.Context, d core.RefDomain) (int, error)
}

// Config holds the schedules and the metrics listen address. An empty
// schedule disables that job; an empty address disables the metrics server.
type Config struct {
	SyncSchedule    string
	RefreshSchedule string
	MetricsAddr     string
	JobTimeout      time.Duration
}

const defaultJobTimeout = 2 * time.Minute

// Option customises an Agent.
type Option func(*Agent)

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(logger core.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithGatherer sets the registry served on /metrics. Nil keeps the default gatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *Agent) {
		if g != nil {
			a.gatherer = g
		}
	}
}

// Agent schedules the background jobs.
type Agent struct {
	records  Reconciler
	refs     Refresher
	cfg      Config
	logger   core.Logger
	gatherer prometheus.Gatherer

	cron     *cron.Cron
	server   *http.Server
	listener net.Listener
	serveErr chan error

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
}

// New constructs an Agent. Nothing runs until Start.
func New(records Reconciler, refs Refresher, cfg Config, opts ...Option) *Agent {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	a := &Agent{
		records:  records,
		refs:     refs,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		gatherer: prometheus.DefaultGatherer,
		cron:     cron.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler serves Prometheus metrics on /metrics and expvar on /debug/vars.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// Start runs every job once, registers the schedules and starts the metrics
// server. Jobs run with contexts derived from ctx.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("agent already started")
	}
	a.mu.Unlock()

	if a.cfg.SyncSchedule != "" {
		if _, err := a.cron.AddFunc(a.cfg.SyncSchedule, a.SyncOnce); err != nil {
			return fmt.Errorf("schedule sync %q: %w", a.cfg.SyncSchedule, err)
		}
	}
	if a.cfg.RefreshSchedule != "" {
		if _, err := a.cron.AddFunc(a.cfg.RefreshSchedule, a.RefreshOnce); err != nil {
			return fmt.Errorf("schedule refresh %q: %w", a.cfg.RefreshSchedule, err)
		}
	}
	if a.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		a.listener = ln
		a.server = &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		a.serveErr = make(chan error, 1)
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", "error", err)
				a.serveErr <- err
			}
			close(a.serveErr)
		}()
		a.logger.Info("serving metrics", "addr", ln.Addr().String())
	}

	a.mu.Lock()
	a.base, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.SyncOnce()
	a.RefreshOnce()
	a.cron.Start()
	a.logger.Info("agent started", "sync", a.cfg.SyncSchedule, "refresh", a.cfg.RefreshSchedule)
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (a *Agent) MetricsAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop halts the scheduler, waits for running jobs and shuts the metrics
// server down, all bounded by ctx.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	done := a.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return ctx.Err()
	}
	if cancel != nil {
		cancel()
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown metrics: %w", err)
		}
	}
	return nil
}

// Wait blocks until ctx is done or the metrics server fails.
func (a *Agent) Wait(ctx context.Context) error {
	if a.serveErr == nil {
		<-ctx.Done()
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-a.serveErr:
		if ok {
			return err
		}
		return nil
	}
}

// SyncOnce reconciles the history. Being signed out is not a failure.
func (a *Agent) SyncOnce() {
	ctx, cancel := a.jobContext()
	defer cancel()
	n, err := a.records.Reconcile(ctx)
	switch {
	case err == nil:
		a.logger.Info("scheduled reconcile finished", "records", n)
	case errors.Is(err, domain.ErrNotAuthenticated):
		a.logger.Debug("scheduled reconcile skipped: signed out")
	case errors.Is(err, core.ErrReconcileDiscarded):
		a.logger.Info("scheduled reconcile discarded after identity change")
	default:
		a.logger.Error("scheduled reconcile failed", "error", err)
	}
}

// RefreshOnce reloads both reference lists.
func (a *Agent) RefreshOnce() {
	ctx, cancel := a.jobContext()
	defer cancel()
	for _, d := range []core.RefDomain{core.SpeciesDomain, core.SpotsDomain} {
		n, err := a.refs.Refresh(ctx, d)
		if err != nil {
			a.logger.Error("scheduled reference refresh failed", "domain", d.Name(), "error", err)
			continue
		}
		a.logger.Info("refreshed reference list", "domain", d.Name(), "items", n)
	}
}

func (a *Agent) jobContext() (context.Context, context.CancelFunc) {
	a.mu.Lock()
	base := a.base
	a.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, a.cfg.JobTimeout)
}
