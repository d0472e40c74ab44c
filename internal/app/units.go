package app

import (
	"context"
	"fmt"
	"log/slog"

	"ladder_go/internal/domain"
	"ladder_go/internal/engine"
	"ladder_go/internal/event"
	"ladder_go/internal/execution"
	"ladder_go/internal/infra"
	"ladder_go/internal/infra/monitor"
	"ladder_go/internal/infra/procs"
	"ladder_go/internal/service"
)

// Units returns the body of every worker unit.
func (b *Bootstrap) Units() map[string]procs.UnitFunc {
	return map[string]procs.UnitFunc{
		"balances": b.runBalances,
		"pricing":  b.runPricing,
		"orders":   b.runOrders,
	}
}

// runBalances logs every observed pool state.
func (b *Bootstrap) runBalances(ctx context.Context) error {
	return b.runUnit(ctx, "balances", func(ctx context.Context, ev event.BalanceUpdate) {
		slog.Info("📊 Pool balances",
			slog.Int64("ledger", ev.GetSeq()),
			slog.String("asset_a", domain.FormatBalance(ev.Snapshot.AssetA)),
			slog.String("asset_b", domain.FormatBalance(ev.Snapshot.AssetB)),
		)
	})
}

// runPricing prices every ledger and streams it to the monitor feed.
func (b *Bootstrap) runPricing(ctx context.Context) error {
	hub := monitor.NewHub()
	if addr := b.Config.Monitor.Addr; addr != "" {
		go func() {
			if err := hub.Serve(ctx, addr); err != nil {
				slog.Warn("Monitor feed unavailable", slog.String("addr", addr), slog.Any("error", err))
			}
		}()
	}

	svc := service.NewPriceService(b.Model, hub, b.Metrics)
	return b.runUnit(ctx, "pricing", svc.HandleBalanceUpdate)
}

// runOrders keeps the ladder of resting orders around the spot price.
func (b *Bootstrap) runOrders(ctx context.Context) error {
	cfg := b.Config
	orders := execution.NewOrderManager(b.Ledger, b.Storage)
	defer orders.ClearAll()

	ctrl := engine.NewLadderController(b.Model, orders, engine.LadderConfig{
		NumLevels:       cfg.Ladder.NumLevels,
		StepFraction:    cfg.Ladder.StepFraction,
		OrderSize:       cfg.Ladder.OrderSize,
		CancelOnRebuild: cfg.Ladder.CancelOnRebuild,
		SettleDelay:     infra.Ms(cfg.Timing.InitialSettleMS),
	}, b.Metrics)

	return b.runUnit(ctx, "orders", ctrl.HandleBalanceUpdate)
}

// runUnit drives handler from this unit's own poller until ctx is cancelled.
// An unreachable ledger at start is a unit failure.
func (b *Bootstrap) runUnit(ctx context.Context, name string, handler event.Handler) error {
	if _, err := b.Ledger.LatestLedgerSequence(ctx); err != nil {
		return fmt.Errorf("%s: ledger unreachable: %w", name, err)
	}

	bus := b.newBus()
	bus.Subscribe(name, handler)
	bus.Start(ctx)

	poller := b.newPoller(bus)
	poller.Start(ctx)

	<-ctx.Done()

	poller.Stop()
	bus.Stop()
	slog.Info("Worker unit stopped", slog.String("unit", name))
	return nil
}
