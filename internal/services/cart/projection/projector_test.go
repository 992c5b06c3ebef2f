package projection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/memory"
)

var (
	created   = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	checkedAt = time.Date(2026, 2, 1, 11, 30, 0, 0, time.UTC)
)

func stored(t *testing.T, cartID string, seq uint64, evt cart.Event) event.Event {
	t.Helper()
	out, err := cart.Encode(cartID, seq, 0, evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out.Offset = seq
	return out
}

func newProjector(t *testing.T) (*Projector, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	p, err := New(store)
	if err != nil {
		t.Fatalf("new projector: %v", err)
	}
	if err := p.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	return p, store
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected report store error")
	}
}

func TestProjectsCreationAndCheckout(t *testing.T) {
	p, store := newProjector(t)
	events := []event.Event{
		stored(t, "cart-1", 1, cart.ItemAdded{CartID: "cart-1", ItemID: "a", Quantity: 1, Time: created}),
		stored(t, "cart-1", 2, cart.ItemQuantityAdjusted{CartID: "cart-1", ItemID: "a", Quantity: 3, Time: created.Add(time.Minute)}),
		stored(t, "cart-1", 3, cart.ItemAdded{CartID: "cart-1", ItemID: "b", Quantity: 1, Time: created.Add(time.Hour)}),
		stored(t, "cart-1", 4, cart.CheckedOut{CartID: "cart-1", Time: checkedAt}),
	}
	if err := p.HandleBatch(context.Background(), 0, events); err != nil {
		t.Fatalf("handle batch: %v", err)
	}

	report, err := store.GetReport(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if !report.CreationDate.Equal(created) {
		t.Fatalf("creation date = %v, want %v", report.CreationDate, created)
	}
	if report.CheckoutDate == nil || !report.CheckoutDate.Equal(checkedAt) {
		t.Fatalf("checkout date = %v, want %v", report.CheckoutDate, checkedAt)
	}
}

func TestDuplicateItemAddedIsIdempotent(t *testing.T) {
	p, store := newProjector(t)
	added := stored(t, "cart-1", 1, cart.ItemAdded{CartID: "cart-1", ItemID: "a", Quantity: 1, Time: created})

	for range 2 {
		if err := p.Apply(context.Background(), added); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	report, err := store.GetReport(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if !report.CreationDate.Equal(created) || report.CheckoutDate != nil {
		t.Fatalf("report = %+v, want creation %v without checkout", report, created)
	}
}

func TestCheckoutWithoutRowIsInconsistent(t *testing.T) {
	p, store := newProjector(t)
	err := p.Apply(context.Background(), stored(t, "ghost", 1, cart.CheckedOut{CartID: "ghost", Time: checkedAt}))
	if got := apperrors.CodeOf(err); got != apperrors.CodeProjectionInconsistent {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeProjectionInconsistent)
	}
	if want := "Didn't find cart for checkout. CartID: ghost"; !strings.Contains(err.Error(), want) {
		t.Fatalf("err = %q, want it to mention %q", err.Error(), want)
	}
	if _, err := store.GetReport(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get report err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestRemovalsAreIgnored(t *testing.T) {
	p, store := newProjector(t)
	if err := p.Apply(context.Background(), stored(t, "cart-2", 1, cart.ItemRemoved{CartID: "cart-2", ItemID: "a", Time: created})); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.GetReport(context.Background(), "cart-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get report err = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	p, store := newProjector(t)
	events := []event.Event{
		stored(t, "ghost", 1, cart.CheckedOut{CartID: "ghost", Time: checkedAt}),
		stored(t, "cart-3", 1, cart.ItemAdded{CartID: "cart-3", ItemID: "a", Quantity: 1, Time: created}),
	}
	if err := p.HandleBatch(context.Background(), 0, events); err == nil {
		t.Fatal("expected batch failure")
	}
	if _, err := store.GetReport(context.Background(), "cart-3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("later event applied past failure: %v", err)
	}
}
