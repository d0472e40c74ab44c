package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ladder_go/internal/domain"
	"ladder_go/internal/event"
)

// BalancePoller watches the latest ledger sequence and, whenever it moves, fetches
// both pool balances and publishes them as one BalanceUpdate.
type BalancePoller struct {
	ledger   domain.Ledger
	tokenA   string
	tokenB   string
	interval time.Duration
	publish  func(event.BalanceUpdate)
	metrics  *Metrics

	mu      sync.Mutex
	lastSeq int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBalancePoller creates a poller for the two pool tokens.
func NewBalancePoller(ledger domain.Ledger, tokenA, tokenB string, interval time.Duration, publish func(event.BalanceUpdate)) *BalancePoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BalancePoller{
		ledger:   ledger,
		tokenA:   tokenA,
		tokenB:   tokenB,
		interval: interval,
		publish:  publish,
	}
}

// WithMetrics attaches a metrics sink.
func (p *BalancePoller) WithMetrics(m *Metrics) *BalancePoller {
	p.metrics = m
	return p
}

// Start polls once immediately, then on every tick until ctx is cancelled or Stop is called.
func (p *BalancePoller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Balance polling panic recovered", slog.Any("panic", r))
			}
		}()

		p.tick(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Balance polling stopped")
				return
			case <-ticker.C:
				p.tick(ctx)
			}
		}
	}()
}

func (p *BalancePoller) tick(ctx context.Context) {
	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.metrics.RecordPollError("balances")
		slog.Warn("Balance poll failed",
			slog.String("component", "balance_poller"),
			slog.Any("error", err))
	}
}

// Poll runs one cycle. The update is published only when the ledger sequence changed
// since the last successful cycle.
func (p *BalancePoller) Poll(ctx context.Context) error {
	seq, err := p.ledger.LatestLedgerSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest ledger: %w", err)
	}

	p.mu.Lock()
	unchanged := seq == p.lastSeq
	p.mu.Unlock()
	if unchanged {
		return nil
	}

	// 1. Fetch both sides at the new ledger
	amountA, err := p.ledger.SimulateBalance(ctx, p.tokenA)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", p.tokenA, err)
	}
	amountB, err := p.ledger.SimulateBalance(ctx, p.tokenB)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", p.tokenB, err)
	}

	// 2. Only commit the sequence once both balances are in hand
	p.mu.Lock()
	p.lastSeq = seq
	p.mu.Unlock()

	ev := event.BalanceUpdate{
		Snapshot: domain.BalanceSnapshot{
			LedgerSeq: seq,
			AssetA:    amountA,
			AssetB:    amountB,
		},
		ObservedAt: time.Now(),
	}

	slog.Debug("Ledger changed",
		slog.Int64("ledger", seq),
		slog.String("asset_a", amountA.String()),
		slog.String("asset_b", amountB.String()))

	p.metrics.RecordBalanceUpdate()
	if p.publish != nil {
		p.publish(ev)
	}
	return nil
}

// Stop stops the polling
func (p *BalancePoller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
