package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"ladder_go/internal/domain"

	"github.com/shopspring/decimal"
)

// OrderJournal mirrors the active order set outside the process.
type OrderJournal interface {
	SaveOrder(order domain.Order) error
	ClearOrders() error
}

// OrderManager owns the active order set: at most one resting order per ladder slot.
// Only the manager mutates the set; an entry exists only after the ledger accepted it.
type OrderManager struct {
	ledger  domain.Ledger
	journal OrderJournal

	mu     sync.Mutex
	active map[string]domain.Order
}

// NewOrderManager creates a manager. journal may be nil.
func NewOrderManager(ledger domain.Ledger, journal OrderJournal) *OrderManager {
	return &OrderManager{
		ledger:  ledger,
		journal: journal,
		active:  make(map[string]domain.Order),
	}
}

// ClearAll forgets every tracked order. It does not cancel anything on the ledger.
// Idempotent.
func (m *OrderManager) ClearAll() {
	m.mu.Lock()
	n := len(m.active)
	m.active = make(map[string]domain.Order)
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.ClearOrders(); err != nil {
			slog.Warn("Failed to clear order registry",
				slog.String("component", "order_manager"),
				slog.Any("error", err))
		}
	}

	if n > 0 {
		slog.Info("Cleared active orders", slog.Int("count", n))
	}
}

// PlaceLevel submits a limit order of size asset-B units at the level's price and
// tracks it under the level key. On failure the set is left unchanged.
func (m *OrderManager) PlaceLevel(ctx context.Context, level domain.PriceLevel, size decimal.Decimal) (domain.Order, error) {
	key := level.Key()

	req := domain.OrderRequest{
		Side:   level.Side,
		Amount: domain.ToBaseUnits(size),
		Price:  domain.ToBaseUnits(level.Price),
	}
	if req.Amount <= 0 || req.Price <= 0 {
		return domain.Order{}, &domain.PlacementError{
			LevelKey: key,
			Err:      fmt.Errorf("amount %s at price %s rounds to zero base units", size, level.Price),
		}
	}

	receipt, err := m.ledger.PlaceOrder(ctx, req)
	if err != nil {
		return domain.Order{}, &domain.PlacementError{LevelKey: key, Err: err}
	}

	order := domain.Order{
		Handle:   receipt.Handle,
		Price:    level.Price,
		Size:     size,
		Side:     level.Side,
		LevelKey: key,
		PlacedAt: receipt.SubmittedAt,
	}

	m.mu.Lock()
	m.active[key] = order
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.SaveOrder(order); err != nil {
			// The order rests on the ledger either way; only fill detection loses sight of it.
			slog.Warn("Failed to record order in registry",
				slog.String("component", "order_manager"),
				slog.String("level", key),
				slog.Any("error", err))
		}
	}

	slog.Info("Order placed",
		slog.String("level", key),
		slog.String("side", string(level.Side)),
		slog.String("price", level.Price.StringFixed(domain.BaseUnitDecimals)),
		slog.String("size", size.String()),
		slog.String("handle", string(receipt.Handle)))

	return order, nil
}

// CancelAll withdraws every tracked order if the ledger supports cancellation.
// Orders stay tracked; callers follow up with ClearAll.
func (m *OrderManager) CancelAll(ctx context.Context) error {
	canceler, ok := m.ledger.(domain.OrderCanceler)
	if !ok {
		return nil
	}

	var errs []error
	for _, order := range m.Snapshot() {
		if err := canceler.CancelOrder(ctx, order.Handle); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", order.LevelKey, err))
			continue
		}
		slog.Debug("Order cancelled", slog.String("level", order.LevelKey), slog.String("handle", string(order.Handle)))
	}
	return errors.Join(errs...)
}

// Get returns the order tracked for a level key.
func (m *OrderManager) Get(key string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.active[key]
	return order, ok
}

// Len returns the number of tracked orders.
func (m *OrderManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Snapshot returns a copy of the tracked orders sorted by level key.
func (m *OrderManager) Snapshot() []domain.Order {
	m.mu.Lock()
	out := make([]domain.Order, 0, len(m.active))
	for _, order := range m.active {
		out = append(out, order)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LevelKey < out[j].LevelKey })
	return out
}
