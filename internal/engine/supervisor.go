package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/infra"

	"github.com/google/uuid"
)

// Restart reasons.
const (
	ReasonBalanceChanged = "balance changed"
	ReasonOrderFilled    = "order filled"
)

// RestartRecorder keeps the restart log.
type RestartRecorder interface {
	RecordRestart(rec *domain.RestartRecord) error
}

// SupervisorConfig fixes the unit start order and lifecycle delays.
type SupervisorConfig struct {
	Units         []string // start order
	StartupGrace  time.Duration
	KillSettle    time.Duration
	RestartSettle time.Duration
}

// workerInfo is a point-in-time view of one unit.
type workerInfo struct {
	Name     string
	State    domain.WorkerState
	ExitCode int
}

type worker struct {
	unit     string
	handle   domain.WorkerHandle
	state    domain.WorkerState
	exitCode int
	killed   bool
	exited   chan struct{}
}

// Supervisor owns the worker units and restarts all of them on a balance change or
// an order fill. At most one restart cycle runs at a time.
type Supervisor struct {
	runtime  domain.Runtime
	cfg      SupervisorConfig
	recorder RestartRecorder
	metrics  *infra.Metrics

	restarting atomic.Bool // RestartGuard

	mu           sync.Mutex
	workers      map[string]*worker
	lastBalances *domain.BalanceSnapshot
}

// NewSupervisor creates an idle supervisor with no workers. recorder may be nil.
func NewSupervisor(runtime domain.Runtime, cfg SupervisorConfig, recorder RestartRecorder, metrics *infra.Metrics) *Supervisor {
	return &Supervisor{
		runtime:  runtime,
		cfg:      cfg,
		recorder: recorder,
		metrics:  metrics,
		workers:  make(map[string]*worker),
	}
}

// Start runs the initial start sequence. Any failure is fatal to the caller:
// everything already started is killed and a *domain.StartupError is returned.
// If ctx is cancelled first, the started units are killed and ctx.Err() is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	slog.Info("🚀 Starting workers", slog.Any("units", s.cfg.Units))

	if unit, err := s.startAll(ctx); err != nil {
		s.killAll()
		// Cancelled while starting: a shutdown, not a failed start.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.StartupError{Unit: unit, Initial: true, Err: err}
	}

	slog.Info("✅ All workers running")
	return nil
}

// HandleBalanceUpdate is the bus handler. A restart is triggered only when a previous
// snapshot exists and either pool amount differs from it.
func (s *Supervisor) HandleBalanceUpdate(ctx context.Context, ev event.BalanceUpdate) {
	next := ev.Snapshot

	s.mu.Lock()
	prev := s.lastBalances
	s.lastBalances = &next
	s.mu.Unlock()

	if !domain.HasBalanceChanged(prev, next) {
		return
	}

	slog.Info("Pool balances changed",
		slog.Int64("ledger", next.LedgerSeq),
		slog.String("asset_a_old", prev.AssetA.String()),
		slog.String("asset_a", next.AssetA.String()),
		slog.String("asset_b_old", prev.AssetB.String()),
		slog.String("asset_b", next.AssetB.String()))

	if err := s.Restart(ctx, ReasonBalanceChanged); err != nil && !errors.Is(err, domain.ErrRestartInProgress) && ctx.Err() == nil {
		slog.Error("Restart failed",
			slog.String("component", "supervisor"),
			slog.String("reason", ReasonBalanceChanged),
			slog.Any("error", err))
	}
}

// Restart kills every worker, waits for things to settle, and starts them again in
// order. Returns domain.ErrRestartInProgress without doing anything if a cycle is
// already running. A failed respawn leaves the supervisor idle with no workers.
func (s *Supervisor) Restart(ctx context.Context, reason string) (err error) {
	if !s.restarting.CompareAndSwap(false, true) {
		s.metrics.RecordRestartDropped()
		slog.Warn("Restart already in progress, trigger dropped", slog.String("reason", reason))
		return domain.ErrRestartInProgress
	}
	defer s.restarting.Store(false)

	rec := &domain.RestartRecord{
		CycleID:   uuid.NewString(),
		Reason:    reason,
		StartedAt: time.Now(),
	}
	defer func() {
		rec.FinishedAt = time.Now()
		if err != nil {
			rec.Error = err.Error()
		}
		s.record(rec)
	}()

	s.metrics.RecordRestart(reason)
	slog.Info("🔄 Restarting all workers",
		slog.String("reason", reason),
		slog.String("cycle", rec.CycleID))

	// 1. Stop everything
	s.killAll()
	if err := sleepCtx(ctx, s.cfg.KillSettle); err != nil {
		return err
	}

	// 2. Give the ledger a moment before the new workers read it
	if err := sleepCtx(ctx, s.cfg.RestartSettle); err != nil {
		return err
	}

	// 3. Start again in dependency order
	if unit, startErr := s.startAll(ctx); startErr != nil {
		s.killAll()
		slog.Error("Restart failed, no workers running",
			slog.String("component", "supervisor"),
			slog.String("reason", reason),
			slog.String("cycle", rec.CycleID),
			slog.String("unit", unit),
			slog.Any("error", startErr))
		return &domain.StartupError{Unit: unit, Initial: false, Err: startErr}
	}

	slog.Info("✅ Restart complete",
		slog.String("reason", reason),
		slog.String("cycle", rec.CycleID),
		slog.Duration("took", time.Since(rec.StartedAt)))
	return nil
}

// IsRestarting reports whether a restart cycle is in flight.
func (s *Supervisor) IsRestarting() bool {
	return s.restarting.Load()
}

// Shutdown kills every worker.
func (s *Supervisor) Shutdown() {
	slog.Info("Stopping all workers")
	s.killAll()
}

// workerStates returns the state of every known unit in start order.
func (s *Supervisor) workerStates() []workerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]workerInfo, 0, len(s.cfg.Units))
	for _, unit := range s.cfg.Units {
		info := workerInfo{Name: unit, State: domain.WorkerStopped}
		if w, ok := s.workers[unit]; ok {
			info.State = w.state
			info.ExitCode = w.exitCode
		}
		out = append(out, info)
	}
	return out
}

// startAll spawns the units in order, each followed by its startup grace period.
// On failure it returns the offending unit; already started units keep running.
func (s *Supervisor) startAll(ctx context.Context) (string, error) {
	for _, unit := range s.cfg.Units {
		h, err := s.runtime.Spawn(ctx, unit)
		if err != nil {
			return unit, err
		}

		w := &worker{unit: unit, handle: h, state: domain.WorkerStarting, exited: make(chan struct{})}
		s.mu.Lock()
		s.workers[unit] = w
		s.mu.Unlock()

		s.runtime.OnExit(h, func(st domain.ExitStatus) { s.onExit(w, st) })
		slog.Info("Worker spawned", slog.String("unit", unit), slog.String("id", h.ID()))

		select {
		case <-w.exited:
			return unit, fmt.Errorf("exited during startup with code %d", w.exitCode)
		case <-ctx.Done():
			return unit, ctx.Err()
		case <-time.After(s.cfg.StartupGrace):
		}

		s.mu.Lock()
		if w.state == domain.WorkerStarting {
			w.state = domain.WorkerRunning
		}
		s.mu.Unlock()
		s.updateRunningGauge()
	}
	return "", nil
}

// killAll stops every worker. Kill failures are logged; the handle is dropped either way.
func (s *Supervisor) killAll() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, unit := range s.cfg.Units {
		if w, ok := s.workers[unit]; ok {
			w.killed = true
			workers = append(workers, w)
		}
	}
	s.workers = make(map[string]*worker)
	s.mu.Unlock()

	// Reverse start order: consumers go before their producers.
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if err := s.runtime.Kill(w.handle); err != nil {
			slog.Warn("Failed to kill worker",
				slog.String("component", "supervisor"),
				slog.String("unit", w.unit),
				slog.Any("error", err))
			continue
		}
		slog.Info("Worker killed", slog.String("unit", w.unit))
	}
	s.updateRunningGauge()
}

func (s *Supervisor) onExit(w *worker, st domain.ExitStatus) {
	s.mu.Lock()
	w.state = domain.WorkerExited
	w.exitCode = st.Code
	killed := w.killed
	select {
	case <-w.exited:
	default:
		close(w.exited)
	}
	s.mu.Unlock()

	attrs := []any{
		slog.String("unit", st.Unit),
		slog.Int("code", st.Code),
	}
	if st.Signal != "" {
		attrs = append(attrs, slog.String("signal", st.Signal))
	}
	if st.Err != nil {
		attrs = append(attrs, slog.Any("error", st.Err))
	}

	if killed {
		slog.Info("Worker exited", attrs...)
	} else {
		slog.Warn("Worker exited unexpectedly", attrs...)
	}
	s.updateRunningGauge()
}

func (s *Supervisor) updateRunningGauge() {
	s.mu.Lock()
	running := 0
	for _, w := range s.workers {
		if w.state == domain.WorkerRunning {
			running++
		}
	}
	s.mu.Unlock()
	s.metrics.SetWorkersRunning(running)
}

func (s *Supervisor) record(rec *domain.RestartRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRestart(rec); err != nil {
		slog.Warn("Failed to record restart", slog.String("cycle", rec.CycleID), slog.Any("error", err))
	}
}
