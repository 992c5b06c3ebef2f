// Package sqlite implements the cart storage interfaces on SQLite. The
// events database holds the journal, consumer offsets and cluster leases; the
// projections database holds the cart report read model.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/cartstream/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/sqlite/migrations"
)

const busyRetries = 8

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store is a SQLite database opened for one purpose.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenEvents opens the events database at path.
func OpenEvents(ctx context.Context, path string) (*Store, error) {
	return openStore(ctx, path, "events")
}

// OpenProjections opens the projections database at path.
func OpenProjections(ctx context.Context, path string) (*Store, error) {
	return openStore(ctx, path, "projections")
}

func openStore(ctx context.Context, path, purpose string) (*Store, error) {
	migrationFS := migrations.EventsFS
	if purpose == "projections" {
		migrationFS = migrations.ProjectionsFS
	}
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrationFS, purpose)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", purpose, err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying SQLite database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return errors.New("storage is not configured")
	}
	return nil
}

// retryBusy runs fn until it succeeds, fails with a non-busy error, or the
// retry budget is spent. Lock contention comes from other processes sharing
// the database file.
func retryBusy[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	return backoff.Retry(ctx, func() (T, error) {
		value, err := fn()
		if err != nil && !sqlitemigrate.IsBusyError(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(busyRetries))
}
