package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/engine"
	"ladder_go/internal/execution"
	"ladder_go/internal/infra"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testConfig = `
ledger:
  mode: %s
  rpc_url: %q
paper:
  balance_a: "1000"
  balance_b: "95000"
pool:
  contract: "CPOOL"
  asset_a: { symbol: USDC, contract: "CUSDC", weight: "0.2" }
  asset_b: { symbol: BLND, contract: "CBLND", weight: "0.8" }
  swap_fee: "0.003"
ladder:
  num_levels: 10
  step_fraction: "0.005"
  order_size: "500"
timing:
  poll_interval_ms: 20
  fill_poll_interval_ms: 20
  initial_settle_ms: 10
  startup_grace_ms: %d
  kill_settle_ms: 20
  restart_settle_ms: 20
supervisor:
  runtime: inline
storage:
  path: %q
logging:
  level: debug
  dir: %q
`

func newTestBootstrap(t *testing.T, mode, rpcURL string, graceMS int) *Bootstrap {
	t.Helper()
	dir := t.TempDir()

	data := fmt.Sprintf(testConfig, mode, rpcURL, graceMS,
		filepath.Join(dir, "registry.db"), filepath.Join(dir, "logs"))
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	b := NewBootstrap(path)
	if err := b.Initialize(ProcessSupervisor); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func trackedCount(t *testing.T, b *Bootstrap) int {
	t.Helper()
	orders, err := b.Storage.TrackedOrders()
	if err != nil {
		t.Fatalf("TrackedOrders failed: %v", err)
	}
	return len(orders)
}

func TestRunSupervisor_PaperLifecycle(t *testing.T) {
	b := newTestBootstrap(t, "paper", "", 30)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- b.RunSupervisor(ctx) }()

	// 1. The orders unit builds a full ladder.
	waitFor(t, "initial ladder", func() bool { return trackedCount(t, b) == 20 })

	// 2. Let the supervisor observe the initial balances, then move the pool slightly.
	time.Sleep(150 * time.Millisecond)
	paper := b.Ledger.(*execution.PaperLedger)
	paper.SetBalances(10010000000, 950000000000)

	waitFor(t, "restart record", func() bool {
		recs, err := b.Storage.Restarts(10)
		if err != nil {
			t.Fatalf("Restarts failed: %v", err)
		}
		for _, rec := range recs {
			if rec.Reason == engine.ReasonBalanceChanged && !rec.FinishedAt.IsZero() && rec.Error == "" {
				return true
			}
		}
		return false
	})

	// 3. The restarted orders unit rebuilds around the new price.
	waitFor(t, "rebuilt ladder", func() bool { return trackedCount(t, b) == 20 })

	// 4. Shutdown clears the registry.
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("RunSupervisor returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunSupervisor did not return after cancel")
	}

	if n := trackedCount(t, b); n != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d orders", n)
	}
}

func TestRunSupervisor_InitialStartupFailure(t *testing.T) {
	// Every call fails with a non-retriable JSON-RPC error.
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node offline"}}`)
	}))
	defer gateway.Close()

	b := newTestBootstrap(t, "rpc", gateway.URL, 300)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := b.RunSupervisor(ctx)
	if !errors.Is(err, domain.ErrStartupFailure) {
		t.Fatalf("Expected startup failure, got %v", err)
	}
	if !IsStartupFailure(err) {
		t.Errorf("Expected an initial startup failure, got %v", err)
	}
}

func TestRunSupervisor_InterruptedDuringStartup(t *testing.T) {
	b := newTestBootstrap(t, "paper", "", 2000)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- b.RunSupervisor(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("RunSupervisor did not return after cancel")
	}

	if err != nil {
		t.Fatalf("Expected a clean shutdown, got %v", err)
	}
	if IsStartupFailure(err) {
		t.Error("An interrupt must not count as a startup failure")
	}
	if n := trackedCount(t, b); n != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d orders", n)
	}
}

func TestNewMetrics_Scopes(t *testing.T) {
	tests := []struct {
		name        string
		runtime     string
		process     string
		workerAddrs map[string]string
		wantNil     bool
		wantSpot    int
		wantWorkers int
	}{
		{"inline supervisor", infra.RuntimeInline, ProcessSupervisor, nil, false, 1, 1},
		{"exec supervisor", infra.RuntimeExec, ProcessSupervisor, nil, false, 0, 1},
		{"worker with address", infra.RuntimeExec, "pricing", map[string]string{"pricing": "localhost:0"}, false, 1, 0},
		{"worker without address", infra.RuntimeExec, "orders", map[string]string{"pricing": "localhost:0"}, true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &infra.Config{}
			cfg.Supervisor.Runtime = tt.runtime
			cfg.Metrics.WorkerAddrs = tt.workerAddrs

			m := newMetrics(cfg, tt.process)
			if tt.wantNil {
				if m != nil {
					t.Fatal("Expected no metrics")
				}
				return
			}
			if m == nil {
				t.Fatal("Expected metrics")
			}

			spot, err := testutil.GatherAndCount(m.Registry(), "ladder_spot_price")
			if err != nil {
				t.Fatalf("Gather failed: %v", err)
			}
			workers, err := testutil.GatherAndCount(m.Registry(), "ladder_workers_running")
			if err != nil {
				t.Fatalf("Gather failed: %v", err)
			}
			if spot != tt.wantSpot {
				t.Errorf("Expected %d spot price series, got %d", tt.wantSpot, spot)
			}
			if workers != tt.wantWorkers {
				t.Errorf("Expected %d workers running series, got %d", tt.wantWorkers, workers)
			}
		})
	}
}

func TestRunWorker_UnknownUnit(t *testing.T) {
	b := newTestBootstrap(t, "paper", "", 30)

	if err := b.RunWorker(context.Background(), "reporting"); err == nil {
		t.Fatal("Expected an error for an unknown unit")
	}
}
