package procs

import (
	"context"
	"errors"
	"testing"
	"time"

	"ladder_go/internal/domain"
)

func exitOf(t *testing.T, rt *InlineRuntime, h domain.WorkerHandle) domain.ExitStatus {
	t.Helper()
	ch := make(chan domain.ExitStatus, 1)
	rt.OnExit(h, func(st domain.ExitStatus) { ch <- st })
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("unit did not exit")
		return domain.ExitStatus{}
	}
}

func TestInlineRuntime(t *testing.T) {
	started := make(chan struct{}, 1)
	rt := NewInlineRuntime(map[string]UnitFunc{
		"blocker": func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		},
		"failer": func(ctx context.Context) error {
			return errors.New("ledger unreachable")
		},
		"panicker": func(ctx context.Context) error {
			panic("boom")
		},
	})

	t.Run("kill cancels the unit", func(t *testing.T) {
		h, err := rt.Spawn(context.Background(), "blocker")
		if err != nil {
			t.Fatalf("Spawn failed: %v", err)
		}
		<-started

		rt.Kill(h)
		rt.Kill(h)

		st := exitOf(t, rt, h)
		if st.Code != -1 || st.Signal == "" || st.Err != nil {
			t.Errorf("Expected cancellation exit, got %+v", st)
		}
	})

	t.Run("failure reports code 1", func(t *testing.T) {
		h, _ := rt.Spawn(context.Background(), "failer")
		st := exitOf(t, rt, h)
		if st.Code != 1 || st.Err == nil {
			t.Errorf("Expected failure exit, got %+v", st)
		}
	})

	t.Run("panic is contained", func(t *testing.T) {
		h, _ := rt.Spawn(context.Background(), "panicker")
		st := exitOf(t, rt, h)
		if st.Code != 2 {
			t.Errorf("Expected panic exit code 2, got %+v", st)
		}
	})

	t.Run("unknown unit", func(t *testing.T) {
		_, err := rt.Spawn(context.Background(), "nope")
		if !errors.Is(err, domain.ErrSpawn) {
			t.Errorf("Expected ErrSpawn, got %v", err)
		}
	})

	t.Run("not bound to the spawning context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		h, _ := rt.Spawn(ctx, "blocker")
		<-started
		cancel()

		done := make(chan struct{})
		rt.OnExit(h, func(domain.ExitStatus) { close(done) })
		select {
		case <-done:
			t.Fatal("unit stopped with its spawning context")
		case <-time.After(50 * time.Millisecond):
		}
		rt.Kill(h)
		<-done
	})
}
