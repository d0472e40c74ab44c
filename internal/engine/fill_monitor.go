package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/infra"
)

// OrderSource lists the orders currently resting for the ladder.
type OrderSource interface {
	TrackedOrders() ([]domain.Order, error)
}

// Restarter is the part of the Supervisor the fill monitor triggers.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
	IsRestarting() bool
}

// FillMonitor polls the status of every tracked order and triggers a restart as
// soon as one of them has filled.
type FillMonitor struct {
	ledger    domain.Ledger
	orders    OrderSource
	restarter Restarter
	interval  time.Duration
	metrics   *infra.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFillMonitor creates a monitor polling every interval.
func NewFillMonitor(ledger domain.Ledger, orders OrderSource, restarter Restarter, interval time.Duration, metrics *infra.Metrics) *FillMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FillMonitor{
		ledger:    ledger,
		orders:    orders,
		restarter: restarter,
		interval:  interval,
		metrics:   metrics,
	}
}

// Start begins polling in its own goroutine.
func (m *FillMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Fill monitor panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Fill monitor stopped")
				return
			case <-ticker.C:
				if err := m.Check(ctx); err != nil && ctx.Err() == nil {
					m.metrics.RecordPollError("fills")
					slog.Warn("Order status poll failed",
						slog.String("component", "fill_monitor"),
						slog.Any("error", err))
				}
			}
		}
	}()
}

// Check runs one poll. A read failure aborts the tick; the next tick starts over.
func (m *FillMonitor) Check(ctx context.Context) error {
	// The workers are being replaced; their orders are about to be superseded.
	if m.restarter.IsRestarting() {
		return nil
	}

	orders, err := m.orders.TrackedOrders()
	if err != nil {
		return fmt.Errorf("tracked orders: %w", err)
	}

	for _, order := range orders {
		status, err := m.ledger.OrderStatus(ctx, order.Handle)
		if err != nil {
			return fmt.Errorf("status of %s: %w", order.LevelKey, err)
		}
		if status != domain.OrderStatusFilled {
			continue
		}

		slog.Info("💰 Order filled",
			slog.String("level", order.LevelKey),
			slog.String("side", string(order.Side)),
			slog.String("price", order.Price.StringFixed(domain.BaseUnitDecimals)),
			slog.String("handle", string(order.Handle)))

		err = m.restarter.Restart(ctx, ReasonOrderFilled)
		if errors.Is(err, domain.ErrRestartInProgress) {
			return nil
		}
		return err
	}
	return nil
}

// Stop stops the polling
func (m *FillMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
}
