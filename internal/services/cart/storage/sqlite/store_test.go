package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

func openTestEventsStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenEvents(context.Background(), filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open events store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close events store: %v", err)
		}
	})
	return store
}

func openTestProjectionStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenProjections(context.Background(), filepath.Join(t.TempDir(), "projections.db"))
	if err != nil {
		t.Fatalf("open projections store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close projections store: %v", err)
		}
	})
	return store
}

func mustEncode(t *testing.T, cartID string, seq uint64, tag int, evt cart.Event) event.Event {
	t.Helper()
	stored, err := cart.Encode(cartID, seq, tag, evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return stored
}

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)
	at := time.Date(2026, 2, 3, 4, 5, 6, 789_123_456, time.UTC)

	first, err := store.AppendEvent(ctx, mustEncode(t, "cart-1", 1, 3, cart.ItemAdded{CartID: "cart-1", ItemID: "a", Quantity: 2, Time: at}))
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Offset == 0 {
		t.Fatal("expected offset to be assigned")
	}
	if !first.Timestamp.Equal(at.Truncate(time.Millisecond)) {
		t.Fatalf("timestamp = %v, want millisecond truncation", first.Timestamp)
	}
	if _, err := store.AppendEvent(ctx, mustEncode(t, "cart-1", 2, 3, cart.CheckedOut{CartID: "cart-1", Time: at})); err != nil {
		t.Fatalf("append second: %v", err)
	}

	events, err := store.ListEvents(ctx, "cart-1", 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	state := cart.State{}
	for _, stored := range events {
		state, err = cart.FoldStored(state, stored)
		if err != nil {
			t.Fatalf("fold stored: %v", err)
		}
	}
	if state.Items["a"] != 2 || !state.CheckedOut() {
		t.Fatalf("state = %+v, want a=2 checked out", state)
	}
}

func TestAppendEventRejectsSequenceConflict(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)
	evt := mustEncode(t, "cart-1", 1, 0, cart.ItemAdded{CartID: "cart-1", ItemID: "a", Quantity: 1})

	if _, err := store.AppendEvent(ctx, evt); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.AppendEvent(ctx, evt); !errors.Is(err, storage.ErrConcurrentWrite) {
		t.Fatalf("duplicate append error = %v, want %v", err, storage.ErrConcurrentWrite)
	}
	evt.Seq = 5
	if _, err := store.AppendEvent(ctx, evt); !errors.Is(err, storage.ErrConcurrentWrite) {
		t.Fatalf("gap append error = %v, want %v", err, storage.ErrConcurrentWrite)
	}
}

func TestConcurrentAppendsAcrossCarts(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for c := 0; c < 4; c++ {
		cartID := []string{"a", "b", "c", "d"}[c]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(1); seq <= 10; seq++ {
				evt, err := cart.Encode(cartID, seq, c, cart.ItemAdded{CartID: cartID, ItemID: "x", Quantity: int(seq)})
				if err == nil {
					_, err = store.AppendEvent(ctx, evt)
				}
				if err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	for tag := 0; tag < 4; tag++ {
		events, err := store.ListEventsByTag(ctx, tag, 0, 100)
		if err != nil {
			t.Fatalf("list by tag: %v", err)
		}
		if len(events) != 10 {
			t.Fatalf("tag %d events = %d, want 10", tag, len(events))
		}
		for i := 1; i < len(events); i++ {
			if events[i].Offset <= events[i-1].Offset || events[i].Seq != events[i-1].Seq+1 {
				t.Fatalf("tag %d out of order at %d", tag, i)
			}
		}
	}
}

func TestListEventsByTagResumesAfterOffset(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)
	var offsets []uint64
	for seq := uint64(1); seq <= 3; seq++ {
		stored, err := store.AppendEvent(ctx, mustEncode(t, "cart-1", seq, 7, cart.ItemAdded{CartID: "cart-1", ItemID: "a", Quantity: 1}))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		offsets = append(offsets, stored.Offset)
	}
	events, err := store.ListEventsByTag(ctx, 7, offsets[0], 1)
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(events) != 1 || events[0].Offset != offsets[1] {
		t.Fatalf("events = %+v, want offset %d", events, offsets[1])
	}
}

func TestConsumerOffsets(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)

	offset, err := store.GetOffset(ctx, "cart-report", 2)
	if err != nil || offset != 0 {
		t.Fatalf("initial offset = %d, %v; want 0", offset, err)
	}
	if err := store.SaveOffset(ctx, "cart-report", 2, 9); err != nil {
		t.Fatalf("save offset: %v", err)
	}
	if err := store.SaveOffset(ctx, "cart-report", 2, 12); err != nil {
		t.Fatalf("save offset: %v", err)
	}
	offset, err = store.GetOffset(ctx, "cart-report", 2)
	if err != nil || offset != 12 {
		t.Fatalf("offset = %d, %v; want 12", offset, err)
	}
	other, err := store.GetOffset(ctx, "cart-topic", 2)
	if err != nil || other != 0 {
		t.Fatalf("other consumer offset = %d, %v; want 0", other, err)
	}
}

func TestLeases(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	acquire := func(owner string, at time.Time) bool {
		t.Helper()
		ok, err := store.AcquireLease(ctx, "shard/4", owner, at, 10*time.Second)
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		return ok
	}
	if !acquire("a", now) {
		t.Fatal("expected a to acquire free lease")
	}
	if acquire("b", now.Add(time.Second)) {
		t.Fatal("expected b to be excluded")
	}
	if !acquire("a", now.Add(5*time.Second)) {
		t.Fatal("expected a to renew")
	}
	if err := store.ReleaseLease(ctx, "shard/4", "b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if lease, _ := store.GetLease(ctx, "shard/4"); lease.Owner != "a" {
		t.Fatalf("owner = %q, want a", lease.Owner)
	}
	if err := store.ReleaseLease(ctx, "shard/4", "a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !acquire("b", now.Add(6*time.Second)) {
		t.Fatal("expected b to acquire released lease")
	}
	if _, err := store.GetLease(ctx, "shard/99"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing lease error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	store := openTestEventsStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Heartbeat(ctx, "b", "10.0.0.2:8081", now); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := store.Heartbeat(ctx, "a", "10.0.0.1:8081", now.Add(-time.Minute)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	members, err := store.ListMembers(ctx, now.Add(-10*time.Second))
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].NodeID != "b" {
		t.Fatalf("members = %+v, want only b", members)
	}
	if members[0].Addr != "10.0.0.2:8081" {
		t.Fatalf("member addr = %q, want %q", members[0].Addr, "10.0.0.2:8081")
	}
	if err := store.RemoveMember(ctx, "b"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	members, err = store.ListMembers(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].NodeID != "a" {
		t.Fatalf("members = %+v, want only a", members)
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	store := openTestProjectionStore(t)
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	if err := store.Prepare(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := store.GetReport(ctx, "cart-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing report error = %v, want %v", err, storage.ErrNotFound)
	}
	inserted, err := store.InsertReportIfAbsent(ctx, storage.CartReport{ID: "cart-1", CreationDate: created})
	if err != nil || !inserted {
		t.Fatalf("insert = %v, %v; want true", inserted, err)
	}
	inserted, err = store.InsertReportIfAbsent(ctx, storage.CartReport{ID: "cart-1", CreationDate: created.Add(time.Hour)})
	if err != nil || inserted {
		t.Fatalf("duplicate insert = %v, %v; want false", inserted, err)
	}
	if err := store.SetCheckoutDate(ctx, "cart-2", created); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("checkout missing error = %v, want %v", err, storage.ErrNotFound)
	}
	checkout := created.Add(30 * time.Minute)
	if err := store.SetCheckoutDate(ctx, "cart-1", checkout); err != nil {
		t.Fatalf("set checkout: %v", err)
	}
	report, err := store.GetReport(ctx, "cart-1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if !report.CreationDate.Equal(created) {
		t.Fatalf("creation date = %v, want %v", report.CreationDate, created)
	}
	if report.CheckoutDate == nil || !report.CheckoutDate.Equal(checkout) {
		t.Fatalf("checkout date = %v, want %v", report.CheckoutDate, checkout)
	}
}
