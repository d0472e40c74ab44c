package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ladder_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceFunc prices the pool from its balances (asset A per asset B).
type PriceFunc func(assetA, assetB domain.BaseUnits) (decimal.Decimal, error)

// Fill represents a simulated order fill.
type Fill struct {
	Handle    domain.OrderHandle
	Side      domain.Side
	Price     domain.BaseUnits
	Amount    domain.BaseUnits
	LedgerSeq int64
	FilledAt  time.Time
}

type paperOrder struct {
	req    domain.OrderRequest
	status domain.OrderStatus
}

// PaperLedger simulates the pool and its order book in memory.
// Used for dry runs and tests. Every balance change closes a new ledger, and resting
// limit orders the new spot price crossed are marked filled.
type PaperLedger struct {
	tokenA string
	tokenB string
	price  PriceFunc

	mu       sync.Mutex
	seq      int64
	balances map[string]domain.BaseUnits
	orders   map[domain.OrderHandle]*paperOrder
	fills    []Fill
	reject   bool
}

// NewPaperLedger creates a paper pool for the two tokens. price may be nil, in which
// case orders only fill through Fill.
func NewPaperLedger(tokenA, tokenB string, price PriceFunc) *PaperLedger {
	return &PaperLedger{
		tokenA:   tokenA,
		tokenB:   tokenB,
		price:    price,
		seq:      1,
		balances: map[string]domain.BaseUnits{tokenA: 0, tokenB: 0},
		orders:   make(map[domain.OrderHandle]*paperOrder),
	}
}

// SetBalances moves the pool to new balances and closes a ledger.
func (p *PaperLedger) SetBalances(assetA, assetB domain.BaseUnits) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.balances[p.tokenA] = assetA
	p.balances[p.tokenB] = assetB

	slog.Info("PAPER LEDGER: Pool balances updated",
		slog.Int64("ledger", p.seq),
		slog.String("asset_a", assetA.String()),
		slog.String("asset_b", assetB.String()))

	p.matchLocked()
}

// RejectOrders makes every subsequent placement fail until switched off.
func (p *PaperLedger) RejectOrders(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject = reject
}

// SimulateBalance returns the pool's balance of token.
func (p *PaperLedger) SimulateBalance(ctx context.Context, token string) (domain.BaseUnits, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount, ok := p.balances[token]
	if !ok {
		return 0, domain.NewFatalNetworkError("simulateBalance", fmt.Errorf("unknown token %s", token))
	}
	return amount, nil
}

// LatestLedgerSequence returns the current paper ledger.
func (p *PaperLedger) LatestLedgerSequence(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq, nil
}

// PlaceOrder rests a limit order on the paper book.
func (p *PaperLedger) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reject {
		return domain.OrderReceipt{}, domain.NewFatalNetworkError("placeOrder", fmt.Errorf("paper ledger rejecting orders"))
	}
	if req.Amount <= 0 || req.Price <= 0 {
		return domain.OrderReceipt{}, domain.NewFatalNetworkError("placeOrder",
			fmt.Errorf("invalid order: amount %d price %d", req.Amount, req.Price))
	}

	handle := domain.OrderHandle(uuid.NewString())
	p.orders[handle] = &paperOrder{req: req, status: domain.OrderStatusPending}

	slog.Info("PAPER LEDGER: Order placed",
		slog.String("handle", string(handle)),
		slog.String("side", string(req.Side)),
		slog.String("price", req.Price.String()),
		slog.String("amount", req.Amount.String()))

	return domain.OrderReceipt{Handle: handle, SubmittedAt: time.Now()}, nil
}

// OrderStatus reports the paper order's state; unknown handles are OrderStatusUnknown.
func (p *PaperLedger) OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[handle]
	if !ok {
		return domain.OrderStatusUnknown, nil
	}
	return order.status, nil
}

// CancelOrder cancels an unfilled order.
func (p *PaperLedger) CancelOrder(ctx context.Context, handle domain.OrderHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[handle]
	if !ok {
		return fmt.Errorf("order not found: %s", handle)
	}

	if order.status == domain.OrderStatusFilled {
		return fmt.Errorf("cannot cancel filled order: %s", handle)
	}

	order.status = domain.OrderStatusCancelled
	slog.Info("PAPER LEDGER: Order cancelled", slog.String("handle", string(handle)))
	return nil
}

// Fill marks a pending order filled regardless of price.
func (p *PaperLedger) Fill(handle domain.OrderHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[handle]
	if !ok {
		return fmt.Errorf("order not found: %s", handle)
	}
	if order.status != domain.OrderStatusPending {
		return fmt.Errorf("order %s is %s", handle, order.status)
	}
	p.fillLocked(handle, order)
	return nil
}

// executed returns all fills so far.
func (p *PaperLedger) executed() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]Fill, len(p.fills))
	copy(result, p.fills)
	return result
}

// matchLocked fills resting orders crossed by the current spot price:
// buys at or above spot, sells at or below.
func (p *PaperLedger) matchLocked() {
	if p.price == nil {
		return
	}
	spot, err := p.price(p.balances[p.tokenA], p.balances[p.tokenB])
	if err != nil {
		return
	}

	for handle, order := range p.orders {
		if order.status != domain.OrderStatusPending {
			continue
		}
		price := order.req.Price.Decimal()
		crossed := (order.req.Side == domain.SideBuy && price.GreaterThanOrEqual(spot)) ||
			(order.req.Side == domain.SideSell && price.LessThanOrEqual(spot))
		if crossed {
			p.fillLocked(handle, order)
		}
	}
}

func (p *PaperLedger) fillLocked(handle domain.OrderHandle, order *paperOrder) {
	order.status = domain.OrderStatusFilled
	p.fills = append(p.fills, Fill{
		Handle:    handle,
		Side:      order.req.Side,
		Price:     order.req.Price,
		Amount:    order.req.Amount,
		LedgerSeq: p.seq,
		FilledAt:  time.Now(),
	})

	slog.Info("PAPER LEDGER: Order filled",
		slog.String("handle", string(handle)),
		slog.String("side", string(order.req.Side)),
		slog.String("price", order.req.Price.String()),
		slog.String("amount", order.req.Amount.String()))
}
