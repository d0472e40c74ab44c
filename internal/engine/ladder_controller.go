package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/infra"
	"ladder_go/internal/strategy"

	"github.com/shopspring/decimal"
)

// OrderBook is the slice of the OrderManager the controller drives.
type OrderBook interface {
	ClearAll()
	PlaceLevel(ctx context.Context, level domain.PriceLevel, size decimal.Decimal) (domain.Order, error)
	CancelAll(ctx context.Context) error
}

// LadderConfig holds the ladder shape and rebuild behaviour.
type LadderConfig struct {
	NumLevels       int
	StepFraction    decimal.Decimal
	OrderSize       decimal.Decimal
	CancelOnRebuild bool
	SettleDelay     time.Duration // applied once, before the first event is acted on
}

// LadderController keeps one ladder of resting orders around the spot price and
// replaces it whenever the price leaves the ladder's outer band.
// HandleBalanceUpdate must be driven by a single goroutine (one bus subscriber).
type LadderController struct {
	model   *strategy.SpotPriceModel
	orders  OrderBook
	cfg     LadderConfig
	metrics *infra.Metrics

	mu              sync.RWMutex // Used only for external reads
	current         *strategy.Ladder
	initialSyncDone bool
}

// NewLadderController creates a controller with no ladder in force.
func NewLadderController(model *strategy.SpotPriceModel, orders OrderBook, cfg LadderConfig, metrics *infra.Metrics) *LadderController {
	return &LadderController{
		model:   model,
		orders:  orders,
		cfg:     cfg,
		metrics: metrics,
	}
}

// HandleBalanceUpdate is the bus handler. Errors are logged and the next update retries.
func (c *LadderController) HandleBalanceUpdate(ctx context.Context, ev event.BalanceUpdate) {
	if err := c.Process(ctx, ev.Snapshot); err != nil && ctx.Err() == nil {
		slog.Error("Ladder update failed",
			slog.String("component", "ladder_controller"),
			slog.Int64("ledger", ev.GetSeq()),
			slog.Any("error", err))
	}
}

// Process evaluates one balance snapshot and rebuilds the ladder if needed.
func (c *LadderController) Process(ctx context.Context, snap domain.BalanceSnapshot) error {
	// 1. First event: let the initial read settle
	if !c.initialSyncDone {
		c.mu.Lock()
		c.initialSyncDone = true
		c.mu.Unlock()

		slog.Info("Initial balance received, settling",
			slog.Int64("ledger", snap.LedgerSeq),
			slog.Duration("delay", c.cfg.SettleDelay))
		if err := sleepCtx(ctx, c.cfg.SettleDelay); err != nil {
			return err
		}
	}

	// 2. Spot price
	spot, err := c.model.PriceOf(snap)
	if err != nil {
		return err
	}

	// 3. Keep the ladder while the price stays inside it
	current := c.CurrentLadder()
	if current != nil && current.IsWithinRange(spot) {
		slog.Debug("Spot within ladder range",
			slog.String("spot", spot.StringFixed(domain.BaseUnitDecimals)),
			slog.String("lower", current.LowerBound().StringFixed(domain.BaseUnitDecimals)),
			slog.String("upper", current.UpperBound().StringFixed(domain.BaseUnitDecimals)))
		return nil
	}

	reason := "no ladder"
	if current != nil {
		reason = "spot out of range"
	}
	return c.rebuild(ctx, spot, reason)
}

func (c *LadderController) rebuild(ctx context.Context, spot decimal.Decimal, reason string) error {
	c.metrics.RecordRebuild()
	slog.Info("Rebuilding ladder",
		slog.String("reason", reason),
		slog.String("spot", spot.StringFixed(domain.BaseUnitDecimals)))

	ladder, err := strategy.NewLadder(spot, c.cfg.NumLevels, c.cfg.StepFraction)
	if err != nil {
		return err
	}

	if c.cfg.CancelOnRebuild {
		if err := c.orders.CancelAll(ctx); err != nil {
			slog.Warn("Some resting orders could not be cancelled",
				slog.String("component", "ladder_controller"),
				slog.Any("error", err))
		}
	}
	c.orders.ClearAll()

	// The new ladder is in force even if placement aborts below: the next update
	// re-evaluates its range and rebuilds only once the price leaves it.
	c.setCurrent(ladder)

	levels := ladder.Levels()
	for i, level := range levels {
		if _, err := c.orders.PlaceLevel(ctx, level, c.cfg.OrderSize); err != nil {
			c.metrics.RecordPlacementFailure()
			slog.Error("Ladder rebuild aborted",
				slog.String("component", "ladder_controller"),
				slog.String("level", level.Key()),
				slog.Int("placed", i),
				slog.Int("total", len(levels)),
				slog.Any("error", err))
			return fmt.Errorf("rebuild aborted after %d of %d levels: %w", i, len(levels), err)
		}
		c.metrics.RecordOrderPlaced(string(level.Side))
	}

	slog.Info("Ladder placed",
		slog.String("spot", spot.StringFixed(domain.BaseUnitDecimals)),
		slog.String("lower", ladder.LowerBound().StringFixed(domain.BaseUnitDecimals)),
		slog.String("upper", ladder.UpperBound().StringFixed(domain.BaseUnitDecimals)),
		slog.Int("orders", len(levels)))
	return nil
}

// CurrentLadder returns the ladder in force, or nil.
func (c *LadderController) CurrentLadder() *strategy.Ladder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *LadderController) setCurrent(l *strategy.Ladder) {
	c.mu.Lock()
	c.current = l
	c.mu.Unlock()
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
