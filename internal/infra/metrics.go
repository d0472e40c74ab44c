package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing, so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	BalanceUpdates    prometheus.Counter
	BusDrops          *prometheus.CounterVec
	PollErrors        *prometheus.CounterVec
	LadderRebuilds    prometheus.Counter
	OrdersPlaced      *prometheus.CounterVec
	PlacementFailures prometheus.Counter
	Restarts          *prometheus.CounterVec
	RestartsDropped   prometheus.Counter
	WorkersRunning    prometheus.Gauge
	SpotPrice         prometheus.Gauge
}

// Scope selects which collectors a process exposes.
type Scope int

const (
	// ScopeAll is a process that supervises and runs every unit (inline runtime).
	ScopeAll Scope = iota
	// ScopeSupervisor is the supervisor of exec workers: its poller, fills and restarts.
	ScopeSupervisor
	// ScopeWorker is a single exec worker process: its poller, ladder and pricing.
	ScopeWorker
)

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	return NewScopedMetrics(ScopeAll)
}

// NewScopedMetrics registers only the collectors the process updates itself. The rest
// still accept records but are never exposed.
func NewScopedMetrics(scope Scope) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BalanceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladder_balance_updates_total",
			Help: "Balance updates published after a ledger change.",
		}),
		BusDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_bus_drops_total",
			Help: "Balance updates dropped because a subscriber mailbox was full.",
		}, []string{"subscriber"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_poll_errors_total",
			Help: "Failed poll cycles.",
		}, []string{"poller"}),
		LadderRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladder_rebuilds_total",
			Help: "Ladder rebuilds started.",
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_orders_placed_total",
			Help: "Orders accepted by the ledger.",
		}, []string{"side"}),
		PlacementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladder_order_placement_failures_total",
			Help: "Order submissions rejected or lost.",
		}),
		Restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ladder_supervisor_restarts_total",
			Help: "Restart cycles run by the supervisor.",
		}, []string{"reason"}),
		RestartsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ladder_supervisor_restarts_dropped_total",
			Help: "Restart triggers dropped because a cycle was already running.",
		}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ladder_workers_running",
			Help: "Worker units currently running.",
		}),
		SpotPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ladder_spot_price",
			Help: "Latest computed spot price of asset B in asset A.",
		}),
	}

	m.registry.MustRegister(m.BalanceUpdates, m.BusDrops, m.PollErrors)
	if scope != ScopeWorker {
		m.registry.MustRegister(m.Restarts, m.RestartsDropped, m.WorkersRunning)
	}
	if scope != ScopeSupervisor {
		m.registry.MustRegister(m.LadderRebuilds, m.OrdersPlaced, m.PlacementFailures, m.SpotPrice)
	}
	return m
}

// Registry exposes the underlying registry (tests, custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordBalanceUpdate() {
	if m == nil {
		return
	}
	m.BalanceUpdates.Inc()
}

func (m *Metrics) RecordBusDrop(subscriber string) {
	if m == nil {
		return
	}
	m.BusDrops.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) RecordPollError(poller string) {
	if m == nil {
		return
	}
	m.PollErrors.WithLabelValues(poller).Inc()
}

func (m *Metrics) RecordRebuild() {
	if m == nil {
		return
	}
	m.LadderRebuilds.Inc()
}

func (m *Metrics) RecordOrderPlaced(side string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(side).Inc()
}

func (m *Metrics) RecordPlacementFailure() {
	if m == nil {
		return
	}
	m.PlacementFailures.Inc()
}

func (m *Metrics) RecordRestart(reason string) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRestartDropped() {
	if m == nil {
		return
	}
	m.RestartsDropped.Inc()
}

func (m *Metrics) SetWorkersRunning(n int) {
	if m == nil {
		return
	}
	m.WorkersRunning.Set(float64(n))
}

func (m *Metrics) SetSpotPrice(price float64) {
	if m == nil {
		return
	}
	m.SpotPrice.Set(price)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("📈 Metrics server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
