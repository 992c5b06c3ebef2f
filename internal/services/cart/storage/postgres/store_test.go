package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

func newTestStore(t *testing.T) *ReportStore {
	t.Helper()
	dsn := os.Getenv("CARTSTREAM_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("skipping Postgres integration tests: CARTSTREAM_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, 4)
	if err != nil {
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Prepare(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := store.pool.Exec(ctx, `TRUNCATE cart_reports`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func TestReportStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	t.Run("Prepare is idempotent", func(t *testing.T) {
		if err := store.Prepare(ctx); err != nil {
			t.Fatalf("second prepare: %v", err)
		}
	})

	t.Run("InsertReportIfAbsent keeps first row", func(t *testing.T) {
		inserted, err := store.InsertReportIfAbsent(ctx, storage.CartReport{ID: "cart-1", CreationDate: created})
		if err != nil || !inserted {
			t.Fatalf("insert = %v, %v; want true", inserted, err)
		}
		inserted, err = store.InsertReportIfAbsent(ctx, storage.CartReport{ID: "cart-1", CreationDate: created.Add(time.Hour)})
		if err != nil || inserted {
			t.Fatalf("duplicate insert = %v, %v; want false", inserted, err)
		}
		report, err := store.GetReport(ctx, "cart-1")
		if err != nil {
			t.Fatalf("get report: %v", err)
		}
		if !report.CreationDate.Equal(created) || report.CheckoutDate != nil {
			t.Fatalf("report = %+v", report)
		}
	})

	t.Run("SetCheckoutDate requires row", func(t *testing.T) {
		if err := store.SetCheckoutDate(ctx, "missing", created); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
		}
		if err := store.SetCheckoutDate(ctx, "cart-1", created.Add(time.Minute)); err != nil {
			t.Fatalf("set checkout: %v", err)
		}
		report, err := store.GetReport(ctx, "cart-1")
		if err != nil {
			t.Fatalf("get report: %v", err)
		}
		if report.CheckoutDate == nil || !report.CheckoutDate.Equal(created.Add(time.Minute)) {
			t.Fatalf("checkout date = %v", report.CheckoutDate)
		}
	})

	t.Run("GetReport missing", func(t *testing.T) {
		if _, err := store.GetReport(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
		}
	})
}
