package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one balance update. It runs on the subscriber's own goroutine.
type Handler func(ctx context.Context, ev BalanceUpdate)

// DropFunc is notified when a subscriber's mailbox is full and an update is discarded.
type DropFunc func(subscriber string, ev BalanceUpdate)

type subscriber struct {
	name    string
	inbox   chan BalanceUpdate
	handler Handler
	lastSeq int64
}

// Bus fans balance updates out to independent subscribers.
// Each subscriber has a buffered mailbox drained by a single goroutine, so it sees
// updates strictly in arrival order and one at a time, regardless of how far its
// siblings have progressed.
type Bus struct {
	inboxSize int
	onDrop    DropFunc

	mu      sync.RWMutex
	subs    []*subscriber
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBus creates a bus whose subscribers buffer up to inboxSize updates.
func NewBus(inboxSize int) *Bus {
	if inboxSize <= 0 {
		inboxSize = 16
	}
	return &Bus{inboxSize: inboxSize}
}

// OnDrop installs a callback for discarded updates (metrics).
func (b *Bus) OnDrop(fn DropFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a handler. Subscribing after Start launches it immediately.
func (b *Bus) Subscribe(name string, h Handler) {
	sub := &subscriber{
		name:    name,
		inbox:   make(chan BalanceUpdate, b.inboxSize),
		handler: h,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
	if b.started {
		b.launch(sub)
	}
}

// Start launches one goroutine per subscriber.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.started = true
	for _, sub := range b.subs {
		b.launch(sub)
	}
}

// Must be called with b.mu held.
func (b *Bus) launch(sub *subscriber) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.run(b.ctx, sub)
	}()
}

// Publish hands the update to every subscriber without blocking.
func (b *Bus) Publish(ev BalanceUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.inbox <- ev:
		default:
			slog.Warn("Subscriber mailbox full, dropping balance update",
				slog.String("subscriber", sub.name),
				slog.Int64("ledger", ev.GetSeq()))
			if b.onDrop != nil {
				b.onDrop(sub.name, ev)
			}
		}
	}
}

// Stop cancels all subscribers and waits for in-flight handlers to return.
func (b *Bus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

func (b *Bus) run(ctx context.Context, sub *subscriber) {
	slog.Debug("Subscriber started", slog.String("subscriber", sub.name))

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Subscriber stopping", slog.String("subscriber", sub.name))
			return
		case ev := <-sub.inbox:
			b.dispatch(ctx, sub, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, sub *subscriber, ev BalanceUpdate) {
	// Ledger sequences only move forward; an older update is stale.
	if ev.GetSeq() < sub.lastSeq {
		slog.Warn("Stale balance update ignored",
			slog.String("subscriber", sub.name),
			slog.Int64("ledger", ev.GetSeq()),
			slog.Int64("last", sub.lastSeq))
		return
	}
	sub.lastSeq = ev.GetSeq()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subscriber handler panicked",
				slog.String("subscriber", sub.name),
				slog.Int64("ledger", ev.GetSeq()),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	sub.handler(ctx, ev)
}
