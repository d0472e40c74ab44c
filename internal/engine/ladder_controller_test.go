package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/execution"
	"ladder_go/internal/strategy"

	"github.com/shopspring/decimal"
)

// placingLedger accepts every placement except the failAt-th one (1-based, 0 = never).
type placingLedger struct {
	mu       sync.Mutex
	attempts int
	failAt   int
}

func (l *placingLedger) SimulateBalance(ctx context.Context, token string) (domain.BaseUnits, error) {
	return 0, nil
}

func (l *placingLedger) LatestLedgerSequence(ctx context.Context) (int64, error) {
	return 0, nil
}

func (l *placingLedger) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts == l.failAt {
		return domain.OrderReceipt{}, domain.NewNetworkError("placeOrder", errors.New("gateway timeout"))
	}
	return domain.OrderReceipt{Handle: domain.OrderHandle(fmt.Sprintf("tx-%d", l.attempts)), SubmittedAt: time.Now()}, nil
}

func (l *placingLedger) OrderStatus(ctx context.Context, h domain.OrderHandle) (domain.OrderStatus, error) {
	return domain.OrderStatusPending, nil
}

func (l *placingLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Equal weights and no fee: spot is simply A/B.
func evenModel() *strategy.SpotPriceModel {
	half := decimal.RequireFromString("0.5")
	return strategy.NewSpotPriceModel(strategy.PoolParams{WeightA: half, WeightB: half, SwapFee: decimal.Zero})
}

func ladderConfig() LadderConfig {
	return LadderConfig{
		NumLevels:    10,
		StepFraction: decimal.RequireFromString("0.005"),
		OrderSize:    decimal.NewFromInt(500),
	}
}

// snapshot with spot = a/b.
func snapshot(seq int64, a, b int64) domain.BalanceSnapshot {
	return domain.BalanceSnapshot{LedgerSeq: seq, AssetA: domain.BaseUnits(a * 1e7), AssetB: domain.BaseUnits(b * 1e7)}
}

func TestLadderController_InitialRebuild(t *testing.T) {
	ledger := &placingLedger{}
	orders := execution.NewOrderManager(ledger, nil)
	c := NewLadderController(evenModel(), orders, ladderConfig(), nil)

	if err := c.Process(context.Background(), snapshot(1, 1000, 1000)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if orders.Len() != 20 {
		t.Fatalf("Expected 20 tracked orders, got %d", orders.Len())
	}

	ladder := c.CurrentLadder()
	if ladder == nil {
		t.Fatal("Expected a ladder in force")
	}

	for _, lvl := range ladder.Levels() {
		order, ok := orders.Get(lvl.Key())
		if !ok {
			t.Errorf("Missing order for %s", lvl.Key())
			continue
		}
		if order.Side != lvl.Side {
			t.Errorf("%s has side %s", lvl.Key(), order.Side)
		}
		if !order.Price.Equal(lvl.Price) {
			t.Errorf("%s has price %s, want %s", lvl.Key(), order.Price, lvl.Price)
		}
	}

	for i := 1; i <= 10; i++ {
		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			if _, ok := orders.Get(domain.LevelKey(side, i)); !ok {
				t.Errorf("Missing %s", domain.LevelKey(side, i))
			}
		}
	}
}

func TestLadderController_RangeCheck(t *testing.T) {
	ledger := &placingLedger{}
	orders := execution.NewOrderManager(ledger, nil)
	c := NewLadderController(evenModel(), orders, ladderConfig(), nil)
	ctx := context.Background()

	if err := c.Process(ctx, snapshot(1, 1000, 1000)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	t.Run("within range keeps ladder", func(t *testing.T) {
		before := c.CurrentLadder()
		// spot 1.02
		if err := c.Process(ctx, snapshot(2, 1020, 1000)); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if ledger.count() != 20 {
			t.Errorf("Expected no new placements, got %d total", ledger.count())
		}
		if c.CurrentLadder() != before {
			t.Error("Ladder should be retained")
		}
	})

	t.Run("out of range rebuilds", func(t *testing.T) {
		// spot 1.06, above the 1.05 upper bound
		if err := c.Process(ctx, snapshot(3, 1060, 1000)); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if ledger.count() != 40 {
			t.Errorf("Expected a second full ladder, got %d placements", ledger.count())
		}
		if orders.Len() != 20 {
			t.Errorf("Expected 20 tracked orders, got %d", orders.Len())
		}
		if !c.CurrentLadder().SpotPrice.Equal(decimal.RequireFromString("1.06")) {
			t.Errorf("Expected ladder around 1.06, got %s", c.CurrentLadder().SpotPrice)
		}
	})
}

func TestLadderController_PartialFailureAborts(t *testing.T) {
	ledger := &placingLedger{failAt: 5}
	orders := execution.NewOrderManager(ledger, nil)
	c := NewLadderController(evenModel(), orders, ladderConfig(), nil)

	err := c.Process(context.Background(), snapshot(1, 1000, 1000))
	if !errors.Is(err, domain.ErrOrderPlacementFailed) {
		t.Fatalf("Expected ErrOrderPlacementFailed, got %v", err)
	}

	if orders.Len() != 4 {
		t.Errorf("Expected exactly 4 tracked orders, got %d", orders.Len())
	}
	if ledger.count() != 5 {
		t.Errorf("Expected no placements after the failure, got %d attempts", ledger.count())
	}
	ladder := c.CurrentLadder()
	if ladder == nil || !ladder.SpotPrice.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("Expected the aborted ladder to stay in force, got %+v", ladder)
	}

	t.Run("in range keeps the partial ladder", func(t *testing.T) {
		if err := c.Process(context.Background(), snapshot(2, 1010, 1000)); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if ledger.count() != 5 || orders.Len() != 4 {
			t.Errorf("Expected no new placements, got %d attempts and %d orders", ledger.count(), orders.Len())
		}
		if c.CurrentLadder() != ladder {
			t.Error("Expected the same ladder to stay in force")
		}
	})

	t.Run("out of range rebuilds fully", func(t *testing.T) {
		if err := c.Process(context.Background(), snapshot(3, 1100, 1000)); err != nil {
			t.Fatalf("Rebuild failed: %v", err)
		}
		if orders.Len() != 20 {
			t.Errorf("Expected 20 tracked orders after rebuild, got %d", orders.Len())
		}
		if !c.CurrentLadder().SpotPrice.Equal(decimal.RequireFromString("1.1")) {
			t.Errorf("Expected ladder around 1.1, got %s", c.CurrentLadder().SpotPrice)
		}
	})
}

func TestLadderController_InvalidBalance(t *testing.T) {
	ledger := &placingLedger{}
	c := NewLadderController(evenModel(), execution.NewOrderManager(ledger, nil), ladderConfig(), nil)

	err := c.Process(context.Background(), domain.BalanceSnapshot{LedgerSeq: 1, AssetA: 0, AssetB: 10})
	if !errors.Is(err, domain.ErrInvalidBalance) {
		t.Fatalf("Expected ErrInvalidBalance, got %v", err)
	}
	if ledger.count() != 0 {
		t.Errorf("Expected no placements, got %d", ledger.count())
	}
}

func TestLadderController_SettleOnFirstEventOnly(t *testing.T) {
	cfg := ladderConfig()
	cfg.SettleDelay = 50 * time.Millisecond
	c := NewLadderController(evenModel(), execution.NewOrderManager(&placingLedger{}, nil), cfg, nil)
	ctx := context.Background()

	start := time.Now()
	c.Process(ctx, snapshot(1, 1000, 1000))
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Expected first event to wait for the settle delay, took %v", elapsed)
	}

	start = time.Now()
	c.Process(ctx, snapshot(2, 1000, 1000))
	if elapsed := time.Since(start); elapsed >= 50*time.Millisecond {
		t.Errorf("Expected no settle delay on later events, took %v", elapsed)
	}
}

func TestLadderController_SettleCancelled(t *testing.T) {
	cfg := ladderConfig()
	cfg.SettleDelay = time.Hour
	ledger := &placingLedger{}
	c := NewLadderController(evenModel(), execution.NewOrderManager(ledger, nil), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Process(ctx, snapshot(1, 1000, 1000)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if ledger.count() != 0 {
		t.Errorf("Expected no placements, got %d", ledger.count())
	}
}

func TestLadderController_CancelOnRebuild(t *testing.T) {
	paper := execution.NewPaperLedger("A", "B", nil)
	orders := execution.NewOrderManager(paper, nil)
	cfg := ladderConfig()
	cfg.CancelOnRebuild = true
	c := NewLadderController(evenModel(), orders, cfg, nil)
	ctx := context.Background()

	c.Process(ctx, snapshot(1, 1000, 1000))
	first := orders.Snapshot()

	c.Process(ctx, snapshot(2, 1100, 1000))

	for _, o := range first {
		if s, _ := paper.OrderStatus(ctx, o.Handle); s != domain.OrderStatusCancelled {
			t.Errorf("Expected %s from the old ladder cancelled, got %s", o.LevelKey, s)
		}
	}
	if orders.Len() != 20 {
		t.Errorf("Expected 20 tracked orders, got %d", orders.Len())
	}
}

func TestLadderController_BusHandler(t *testing.T) {
	ledger := &placingLedger{}
	orders := execution.NewOrderManager(ledger, nil)
	c := NewLadderController(evenModel(), orders, ladderConfig(), nil)

	bus := event.NewBus(4)
	bus.Subscribe("orders", c.HandleBalanceUpdate)
	bus.Start(context.Background())
	defer bus.Stop()

	bus.Publish(event.BalanceUpdate{Snapshot: snapshot(1, 1000, 1000), ObservedAt: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for orders.Len() < 20 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if orders.Len() != 20 {
		t.Errorf("Expected 20 tracked orders, got %d", orders.Len())
	}
}
