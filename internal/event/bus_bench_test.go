package event

import (
	"context"
	"testing"
)

// BenchmarkBus_Publish measures fan-out to three subscribers, the shape of a
// process hosting every unit inline.
func BenchmarkBus_Publish(b *testing.B) {
	bus := NewBus(b.N + 1)
	for _, name := range []string{"balances", "pricing", "orders"} {
		bus.Subscribe(name, func(context.Context, BalanceUpdate) {})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	ev := update(1)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ev.Snapshot.LedgerSeq = int64(i + 1)
		bus.Publish(ev)
	}
}
