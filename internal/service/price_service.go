package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
	"ladder_go/internal/infra"
	"ladder_go/internal/infra/monitor"
	"ladder_go/internal/strategy"

	"github.com/shopspring/decimal"
)

// Broadcaster receives every priced ledger (the monitor hub).
type Broadcaster interface {
	Broadcast(update monitor.SpotUpdate)
}

// Quote is the spot price derived from one balance snapshot.
type Quote struct {
	Snapshot   domain.BalanceSnapshot
	Price      decimal.Decimal
	Change     decimal.Decimal // versus the previous quote; zero for the first
	ObservedAt time.Time
}

// PriceService tracks the latest spot price of the pool. It backs the pricing unit.
type PriceService struct {
	model   *strategy.SpotPriceModel
	feed    Broadcaster
	metrics *infra.Metrics

	mu   sync.RWMutex
	last *Quote
}

// NewPriceService creates a new PriceService instance. feed and metrics may be nil.
func NewPriceService(model *strategy.SpotPriceModel, feed Broadcaster, metrics *infra.Metrics) *PriceService {
	return &PriceService{
		model:   model,
		feed:    feed,
		metrics: metrics,
	}
}

// HandleBalanceUpdate is the bus handler for the pricing unit.
func (s *PriceService) HandleBalanceUpdate(ctx context.Context, ev event.BalanceUpdate) {
	if _, err := s.Update(ev); err != nil {
		slog.Error("Failed to price ledger",
			slog.String("component", "pricing"),
			slog.Int64("ledger", ev.GetSeq()),
			slog.Any("error", err),
		)
	}
}

// Update prices the snapshot, logs the pool state and publishes it to the feed.
func (s *PriceService) Update(ev event.BalanceUpdate) (Quote, error) {
	price, err := s.model.PriceOf(ev.Snapshot)
	if err != nil {
		return Quote{}, err
	}

	s.mu.Lock()
	q := Quote{Snapshot: ev.Snapshot, Price: price, ObservedAt: ev.ObservedAt}
	if s.last != nil {
		q.Change = price.Sub(s.last.Price)
	}
	s.last = &q
	s.mu.Unlock()

	slog.Info("💱 Pool priced",
		slog.Int64("ledger", ev.Snapshot.LedgerSeq),
		slog.String("asset_a", domain.FormatBalance(ev.Snapshot.AssetA)),
		slog.String("asset_b", domain.FormatBalance(ev.Snapshot.AssetB)),
		slog.String("spot", FormatPrice(price)),
		slog.String("change", FormatChange(q.Change)),
	)

	s.metrics.SetSpotPrice(price.InexactFloat64())

	if s.feed != nil {
		s.feed.Broadcast(monitor.SpotUpdate{
			Type:   "spot_price",
			Ledger: ev.Snapshot.LedgerSeq,
			Price:  FormatPrice(price),
			AssetA: domain.FormatBalance(ev.Snapshot.AssetA),
			AssetB: domain.FormatBalance(ev.Snapshot.AssetB),
			Change: FormatChange(q.Change),
		})
	}

	return q, nil
}

// latest returns the most recent quote, if any.
func (s *PriceService) latest() (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return Quote{}, false
	}
	return *s.last, true
}

// FormatPrice renders a price with seven decimal places.
func FormatPrice(p decimal.Decimal) string {
	return p.StringFixed(domain.BaseUnitDecimals)
}

// FormatChange renders a price delta with an explicit sign.
func FormatChange(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(domain.BaseUnitDecimals)
	}
	return "+" + d.StringFixed(domain.BaseUnitDecimals)
}
