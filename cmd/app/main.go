package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ladder_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	worker := flag.String("worker", "", "run a single worker unit (balances, pricing, orders) instead of the supervisor")
	pprofAddr := flag.String("pprof", "", "serve pprof on this address, e.g. localhost:6060")
	flag.Parse()

	process := app.ProcessSupervisor
	if *worker != "" {
		process = *worker
	}

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap(*configPath)
	if err := bootstrap.Initialize(process); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	// 2. Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// 4. Run
	var err error
	if *worker != "" {
		err = bootstrap.RunWorker(ctx, *worker)
	} else {
		err = bootstrap.RunSupervisor(ctx)
	}
	stop()
	bootstrap.Close()

	if err != nil {
		if app.IsStartupFailure(err) {
			slog.Error("❌ Initial startup failed, exiting", slog.Any("error", err))
		} else {
			slog.Error("❌ Fatal error", slog.Any("error", err))
		}
		os.Exit(1)
	}

	slog.Info("👋 Shutdown complete", slog.String("process", process))
}
