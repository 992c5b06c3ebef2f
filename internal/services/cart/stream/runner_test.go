package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/memory"
)

const testTags = 2

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, cartID string, n int) {
	t.Helper()
	for i := range n {
		stored, err := cart.Encode(cartID, uint64(i+1), event.TagFor(cartID, testTags), cart.ItemAdded{
			CartID: cartID, ItemID: "item", Quantity: i + 1, Time: baseTime,
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := store.AppendEvent(context.Background(), stored); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

// recorder collects delivered events per tag.
type recorder struct {
	mu   sync.Mutex
	seen map[int][]uint64
	fail func(tag int, events []event.Event) error
}

func (r *recorder) HandleBatch(_ context.Context, tag int, events []event.Event) error {
	if r.fail != nil {
		if err := r.fail(tag, events); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range events {
		r.seen[tag] = append(r.seen[tag], evt.Offset)
	}
	return nil
}

func (r *recorder) count(tag int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen[tag])
}

func newRunner(t *testing.T, store *memory.Store, handler Handler, onHalt func(int, error)) *Runner {
	t.Helper()
	runner, err := NewRunner(Config{
		Consumer:     "test",
		Events:       store,
		Offsets:      store,
		Handler:      handler,
		PollInterval: 5 * time.Millisecond,
		BatchSize:    3,
		RetryBackoff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
		OnHalt:       onHalt,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewRunnerValidates(t *testing.T) {
	store := memory.NewStore()
	if _, err := NewRunner(Config{Events: store, Offsets: store, Handler: &recorder{}}); err == nil {
		t.Fatal("expected consumer name error")
	}
	if _, err := NewRunner(Config{Consumer: "c", Handler: &recorder{}}); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := NewRunner(Config{Consumer: "c", Events: store, Offsets: store}); err == nil {
		t.Fatal("expected handler error")
	}
}

func TestRunnerDeliversInOffsetOrderAndCommits(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "cart-a", 7)
	tag := event.TagFor("cart-a", testTags)

	rec := &recorder{seen: map[int][]uint64{}}
	runner := newRunner(t, store, rec, nil)
	runner.Start(context.Background(), tag)
	waitFor(t, "all events", func() bool { return rec.count(tag) == 7 })
	if err := runner.Stop(context.Background(), tag); err != nil {
		t.Fatalf("stop: %v", err)
	}

	offsets := rec.seen[tag]
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			t.Fatalf("offsets = %v, want increasing", offsets)
		}
	}
	committed, err := store.GetOffset(context.Background(), "test", tag)
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	if committed != offsets[len(offsets)-1] {
		t.Fatalf("committed = %d, want %d", committed, offsets[len(offsets)-1])
	}
	if runner.Running(tag) {
		t.Fatal("expected loop to be stopped")
	}
}

func TestRunnerResumesFromCommittedOffset(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "cart-a", 4)
	tag := event.TagFor("cart-a", testTags)

	first := &recorder{seen: map[int][]uint64{}}
	runner := newRunner(t, store, first, nil)
	runner.Start(context.Background(), tag)
	waitFor(t, "first pass", func() bool { return first.count(tag) == 4 })
	if err := runner.Stop(context.Background(), tag); err != nil {
		t.Fatalf("stop: %v", err)
	}

	seed2, err := cart.Encode("cart-a", 5, tag, cart.CheckedOut{CartID: "cart-a", Time: baseTime})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := store.AppendEvent(context.Background(), seed2); err != nil {
		t.Fatalf("append: %v", err)
	}

	second := &recorder{seen: map[int][]uint64{}}
	resumed := newRunner(t, store, second, nil)
	resumed.Start(context.Background(), tag)
	waitFor(t, "tail", func() bool { return second.count(tag) == 1 })
	if err := resumed.Stop(context.Background(), tag); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRunnerRetriesTransientFailures(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "cart-a", 2)
	tag := event.TagFor("cart-a", testTags)

	failures := 3
	rec := &recorder{seen: map[int][]uint64{}}
	rec.fail = func(int, []event.Event) error {
		if failures > 0 {
			failures--
			return errors.New("report store unavailable")
		}
		return nil
	}
	runner := newRunner(t, store, rec, nil)
	runner.Start(context.Background(), tag)
	waitFor(t, "delivery after retries", func() bool { return rec.count(tag) == 2 })
	if err := runner.Stop(context.Background(), tag); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(runner.Halted()) != 0 {
		t.Fatalf("halted = %v, want none", runner.Halted())
	}
}

func TestRunnerHaltsOnFatalError(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "cart-a", 1)
	tag := event.TagFor("cart-a", testTags)

	fatal := apperrors.New(apperrors.CodeProjectionInconsistent, "Didn't find cart for checkout. CartID: cart-a")
	rec := &recorder{seen: map[int][]uint64{}, fail: func(int, []event.Event) error { return fatal }}

	halted := make(chan int, 1)
	runner := newRunner(t, store, rec, func(tag int, _ error) { halted <- tag })
	runner.Start(context.Background(), tag)

	select {
	case got := <-halted:
		if got != tag {
			t.Fatalf("halted tag = %d, want %d", got, tag)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tag did not halt")
	}
	if !errors.Is(runner.Halted()[tag], fatal) {
		t.Fatalf("halted err = %v, want %v", runner.Halted()[tag], fatal)
	}
	committed, err := store.GetOffset(context.Background(), "test", tag)
	if err != nil {
		t.Fatalf("get offset: %v", err)
	}
	if committed != 0 {
		t.Fatalf("committed = %d, want 0", committed)
	}

	// A halted tag is not restarted by a later assignment.
	runner.Start(context.Background(), tag)
	if runner.Running(tag) {
		t.Fatal("halted tag restarted")
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(errors.New("plain")) {
		t.Fatal("plain error must not be fatal")
	}
	if !IsFatal(apperrors.New(apperrors.CodeProjectionInconsistent, "x")) {
		t.Fatal("projection inconsistency must be fatal")
	}
}
