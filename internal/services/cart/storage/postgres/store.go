// Package postgres implements the cart report store on Postgres for
// deployments that serve reports from a shared database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
	"github.com/louisbranch/cartstream/internal/services/cart/storage/postgres/migrations"
)

// ReportStore is a pgx-backed storage.ReportStore.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore wraps an existing pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Open connects to databaseURL with a bounded pool.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*ReportStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewReportStore(pool), nil
}

// Close releases the pool.
func (s *ReportStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Prepare applies the report schema under an advisory lock.
func (s *ReportStore) Prepare(ctx context.Context) error {
	if err := migrations.Apply(ctx, s.pool); err != nil {
		return fmt.Errorf("prepare cart reports: %w", err)
	}
	return nil
}

// GetReport returns the report for cartID.
func (s *ReportStore) GetReport(ctx context.Context, cartID string) (storage.CartReport, error) {
	report := storage.CartReport{ID: cartID}
	err := s.pool.QueryRow(ctx,
		`SELECT creation_date, checkout_date FROM cart_reports WHERE id = $1`, cartID,
	).Scan(&report.CreationDate, &report.CheckoutDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.CartReport{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CartReport{}, fmt.Errorf("get cart report: %w", err)
	}
	report.CreationDate = report.CreationDate.UTC()
	if report.CheckoutDate != nil {
		at := report.CheckoutDate.UTC()
		report.CheckoutDate = &at
	}
	return report, nil
}

// InsertReportIfAbsent inserts report unless its id exists.
func (s *ReportStore) InsertReportIfAbsent(ctx context.Context, report storage.CartReport) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO cart_reports (id, creation_date, checkout_date) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		report.ID, report.CreationDate.UTC(), report.CheckoutDate,
	)
	if err != nil {
		return false, fmt.Errorf("insert cart report: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetCheckoutDate updates the checkout date of an existing report.
func (s *ReportStore) SetCheckoutDate(ctx context.Context, cartID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cart_reports SET checkout_date = $1 WHERE id = $2`, at.UTC(), cartID,
	)
	if err != nil {
		return fmt.Errorf("set checkout date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.ReportStore = (*ReportStore)(nil)
