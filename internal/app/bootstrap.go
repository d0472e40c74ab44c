package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/engine"
	"ladder_go/internal/event"
	"ladder_go/internal/execution"
	"ladder_go/internal/infra"
	"ladder_go/internal/infra/procs"
	"ladder_go/internal/infra/rpc"
	"ladder_go/internal/infra/storage"
	"ladder_go/internal/strategy"
)

// ProcessSupervisor names the supervisor's own log file and logger.
const ProcessSupervisor = "supervisor"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string
	Config     *infra.Config
	Metrics    *infra.Metrics // nil in worker processes without a metrics address
	Ledger     domain.Ledger
	Storage    *storage.Storage
	Model      *strategy.SpotPriceModel
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization for one process: the supervisor
// or a single worker unit.
func (b *Bootstrap) Initialize(process string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg, process)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping Ladder Go...", slog.String("version", cfg.App.Version))

	// 3. Metrics live where they are recorded and served
	b.Metrics = newMetrics(cfg, process)

	// 4. Pricing model and ledger
	b.Model = strategy.NewSpotPriceModel(cfg.PoolParams())
	b.Ledger = b.newLedger()
	slog.Info("✅ Ledger client ready", slog.String("mode", cfg.Ledger.Mode))

	// 5. Order registry (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	b.Storage = store
	slog.Info("✅ Registry initialized", slog.String("path", cfg.Storage.Path))

	return nil
}

func newMetrics(cfg *infra.Config, process string) *infra.Metrics {
	switch {
	case process != ProcessSupervisor:
		if cfg.Metrics.WorkerAddrs[process] == "" {
			return nil
		}
		return infra.NewScopedMetrics(infra.ScopeWorker)
	case cfg.Supervisor.Runtime == infra.RuntimeInline:
		return infra.NewMetrics()
	default:
		// Exec workers record ladder and pricing metrics in their own processes.
		return infra.NewScopedMetrics(infra.ScopeSupervisor)
	}
}

func (b *Bootstrap) newLedger() domain.Ledger {
	cfg := b.Config
	if cfg.Ledger.Mode == infra.LedgerModePaper {
		paper := execution.NewPaperLedger(cfg.Pool.AssetA.Contract, cfg.Pool.AssetB.Contract, b.Model.Price)
		paper.SetBalances(domain.ToBaseUnits(cfg.Paper.BalanceA), domain.ToBaseUnits(cfg.Paper.BalanceB))
		return paper
	}

	return rpc.NewClient(rpc.Config{
		URL:        cfg.Ledger.RPCURL,
		APIKey:     cfg.Ledger.APIKey,
		Pool:       cfg.Pool.Contract,
		QuoteToken: cfg.Pool.AssetA.Contract,
		BaseToken:  cfg.Pool.AssetB.Contract,
		Timeout:    time.Duration(cfg.Ledger.TimeoutSec) * time.Second,
	})
}

// Close releases the registry.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close registry", slog.Any("error", err))
		}
	}
}

// RunSupervisor starts every unit, then restarts them on balance changes and order
// fills until ctx is cancelled. An initial startup failure is returned to the caller.
func (b *Bootstrap) RunSupervisor(ctx context.Context) error {
	cfg := b.Config

	// 1. Nothing tracked survives a program restart
	if err := b.Storage.Reset(); err != nil {
		return fmt.Errorf("reset registry: %w", err)
	}

	// 2. Metrics endpoint
	b.serveMetrics(ctx, cfg.Metrics.Addr)

	runtime, err := b.newRuntime()
	if err != nil {
		return err
	}

	b.logBanner()

	// 3. Initial start; failure here is fatal
	sup := engine.NewSupervisor(runtime, engine.SupervisorConfig{
		Units:         cfg.Supervisor.Units,
		StartupGrace:  infra.Ms(cfg.Timing.StartupGraceMS),
		KillSettle:    infra.Ms(cfg.Timing.KillSettleMS),
		RestartSettle: infra.Ms(cfg.Timing.RestartSettleMS),
	}, b.Storage, b.Metrics)

	if err := sup.Start(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("👋 Interrupted during startup, shutting down...")
			b.clearRegistry()
			return nil
		}
		return err
	}

	// 4. Restart triggers: balance changes and order fills
	bus := b.newBus()
	bus.Subscribe(ProcessSupervisor, sup.HandleBalanceUpdate)
	bus.Start(ctx)

	poller := b.newPoller(bus)
	poller.Start(ctx)

	fills := engine.NewFillMonitor(b.Ledger, b.Storage, sup, infra.Ms(cfg.Timing.FillPollIntervalMS), b.Metrics)
	fills.Start(ctx)

	slog.Info("✨ Ladder controller fully operational. Press Ctrl+C to exit.")

	<-ctx.Done()

	// 5. Graceful shutdown
	slog.Info("👋 Shutting down gracefully...")
	poller.Stop()
	fills.Stop()
	bus.Stop()
	sup.Shutdown()

	b.clearRegistry()
	b.logRestartHistory()
	return nil
}

func (b *Bootstrap) serveMetrics(ctx context.Context, addr string) {
	if addr == "" || b.Metrics == nil {
		return
	}
	go func() {
		if err := b.Metrics.Serve(ctx, addr); err != nil {
			slog.Error("Metrics server failed", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
}

// logRestartHistory summarizes this run's restart cycles.
func (b *Bootstrap) logRestartHistory() {
	recs, err := b.Storage.Restarts(0)
	if err != nil {
		slog.Warn("Failed to read restart history", slog.Any("error", err))
		return
	}
	if len(recs) == 0 {
		slog.Info("🔁 No restarts this run")
		return
	}

	failed := 0
	for _, rec := range recs {
		if rec.Error != "" {
			failed++
		}
	}
	last := recs[0]
	slog.Info("🔁 Restart history",
		slog.Int("restarts", len(recs)),
		slog.Int("failed", failed),
		slog.String("last_reason", last.Reason),
		slog.Time("last_at", last.StartedAt),
	)
}

// clearRegistry wipes tracked orders once killed units have finished their own cleanup.
func (b *Bootstrap) clearRegistry() {
	time.Sleep(infra.Ms(b.Config.Timing.KillSettleMS))

	if err := b.Storage.ClearOrders(); err != nil {
		slog.Warn("Failed to clear order registry", slog.Any("error", err))
	}
}

// RunWorker runs a single unit in this process until ctx is cancelled.
func (b *Bootstrap) RunWorker(ctx context.Context, unit string) error {
	body, ok := b.Units()[unit]
	if !ok {
		return fmt.Errorf("unknown worker unit %q", unit)
	}
	slog.Info("Worker starting", slog.String("unit", unit))
	b.serveMetrics(ctx, b.Config.Metrics.WorkerAddrs[unit])
	return body(ctx)
}

func (b *Bootstrap) newRuntime() (domain.Runtime, error) {
	cfg := b.Config
	if cfg.Supervisor.Runtime == infra.RuntimeInline {
		return procs.NewInlineRuntime(b.Units()), nil
	}

	command := cfg.Supervisor.Command
	if len(command) == 0 {
		self, err := procs.SelfCommand(b.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("resolve worker command: %w", err)
		}
		command = self
	}
	return procs.NewExecRuntime(command), nil
}

func (b *Bootstrap) newBus() *event.Bus {
	bus := event.NewBus(16)
	bus.OnDrop(func(subscriber string, _ event.BalanceUpdate) {
		b.Metrics.RecordBusDrop(subscriber)
	})
	return bus
}

func (b *Bootstrap) newPoller(bus *event.Bus) *infra.BalancePoller {
	cfg := b.Config
	return infra.NewBalancePoller(
		b.Ledger,
		cfg.Pool.AssetA.Contract,
		cfg.Pool.AssetB.Contract,
		infra.Ms(cfg.Timing.PollIntervalMS),
		bus.Publish,
	).WithMetrics(b.Metrics)
}

func (b *Bootstrap) logBanner() {
	cfg := b.Config
	slog.Info("📐 Ladder parameters",
		slog.String("pool", cfg.Pool.Contract),
		slog.String("pair", cfg.Pool.AssetA.Symbol+"/"+cfg.Pool.AssetB.Symbol),
		slog.String("order_size", cfg.Ladder.OrderSize.String()),
		slog.Int("buckets", cfg.Ladder.NumLevels),
		slog.String("bucket_increment", cfg.Ladder.StepFraction.String()),
		slog.String("runtime", cfg.Supervisor.Runtime),
	)
}

// IsStartupFailure reports whether err came from the initial worker start.
func IsStartupFailure(err error) bool {
	var startErr *domain.StartupError
	return errors.As(err, &startErr) && startErr.Initial
}
