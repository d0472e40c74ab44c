package procs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"ladder_go/internal/domain"
)

// UnitFunc is the body of a worker unit. It runs until ctx is cancelled or it fails.
type UnitFunc func(ctx context.Context) error

// InlineRuntime runs units as goroutines inside the current process. Kill cancels
// the unit's context.
type InlineRuntime struct {
	units  map[string]UnitFunc
	nextID atomic.Uint64
}

type goroutine struct {
	unit   string
	id     string
	cancel context.CancelFunc

	mu      sync.Mutex
	done    bool
	status  domain.ExitStatus
	waiters []func(domain.ExitStatus)
}

func (g *goroutine) Unit() string { return g.unit }
func (g *goroutine) ID() string   { return g.id }

// NewInlineRuntime creates a runtime for the given unit bodies.
func NewInlineRuntime(units map[string]UnitFunc) *InlineRuntime {
	return &InlineRuntime{units: units}
}

// Spawn starts the unit in a goroutine detached from ctx.
func (r *InlineRuntime) Spawn(ctx context.Context, unit string) (domain.WorkerHandle, error) {
	body, ok := r.units[unit]
	if !ok {
		return nil, &domain.SpawnError{Unit: unit, Err: fmt.Errorf("unknown unit")}
	}

	unitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g := &goroutine{
		unit:   unit,
		id:     fmt.Sprintf("%s-%d", unit, r.nextID.Add(1)),
		cancel: cancel,
	}

	go func() {
		status := domain.ExitStatus{Unit: unit}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("Worker unit panic recovered", slog.String("unit", unit), slog.Any("panic", rec))
					status.Code = 2
					status.Err = fmt.Errorf("panic: %v", rec)
				}
			}()
			if err := body(unitCtx); err != nil && unitCtx.Err() == nil {
				status.Code = 1
				status.Err = err
			}
		}()
		if unitCtx.Err() != nil && status.Code == 0 {
			status.Code = -1
			status.Signal = "cancelled"
		}
		g.finish(status)
	}()

	return g, nil
}

func (g *goroutine) finish(status domain.ExitStatus) {
	g.mu.Lock()
	g.done = true
	g.status = status
	waiters := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, fn := range waiters {
		fn(status)
	}
}

// Kill cancels the unit. Idempotent.
func (r *InlineRuntime) Kill(h domain.WorkerHandle) error {
	g, ok := h.(*goroutine)
	if !ok {
		return fmt.Errorf("foreign worker handle %T", h)
	}
	g.cancel()
	return nil
}

// OnExit registers fn for the unit's return; it runs immediately if the unit already returned.
func (r *InlineRuntime) OnExit(h domain.WorkerHandle, fn func(domain.ExitStatus)) {
	g, ok := h.(*goroutine)
	if !ok {
		return
	}

	g.mu.Lock()
	if g.done {
		status := g.status
		g.mu.Unlock()
		fn(status)
		return
	}
	g.waiters = append(g.waiters, fn)
	g.mu.Unlock()
}
