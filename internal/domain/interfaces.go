package domain

import (
	"context"
)

// Ledger is the boundary to the chain. Signing, transaction building and the wire
// protocol all live behind it.
type Ledger interface {
	// SimulateBalance returns the pool's balance of token in base units.
	SimulateBalance(ctx context.Context, token string) (BaseUnits, error)
	// LatestLedgerSequence returns the most recently finalized ledger.
	LatestLedgerSequence(ctx context.Context) (int64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error)
	OrderStatus(ctx context.Context, handle OrderHandle) (OrderStatus, error)
}

// OrderCanceler is implemented by ledgers that can withdraw a resting order.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, handle OrderHandle) error
}

// Runtime starts and stops named worker units.
type Runtime interface {
	// Spawn starts the unit. Fails with a *SpawnError if it cannot start.
	Spawn(ctx context.Context, unit string) (WorkerHandle, error)
	// Kill is best-effort and idempotent.
	Kill(h WorkerHandle) error
	// OnExit registers fn to run once the unit exits. If it already exited fn runs immediately.
	OnExit(h WorkerHandle, fn func(ExitStatus))
}

// WorkerHandle identifies one spawned unit instance.
type WorkerHandle interface {
	Unit() string
	ID() string
}

// ExitStatus is delivered asynchronously when a unit stops.
type ExitStatus struct {
	Unit   string
	Code   int    // -1 when terminated by a signal
	Signal string // empty unless terminated by a signal
	Err    error
}

// WorkerState is the supervisor's view of one unit.
type WorkerState int

const (
	WorkerStopped WorkerState = iota
	WorkerStarting
	WorkerRunning
	WorkerExited
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStopped:
		return "STOPPED"
	case WorkerStarting:
		return "STARTING"
	case WorkerRunning:
		return "RUNNING"
	case WorkerExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}
