package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// Prepare is satisfied by the embedded projections migrations, which run on
// open. It verifies the table is reachable.
func (s *Store) Prepare(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `SELECT 1 FROM cart_reports LIMIT 1`); err != nil {
		return fmt.Errorf("prepare cart reports: %w", err)
	}
	return nil
}

// GetReport returns the report for cartID.
func (s *Store) GetReport(ctx context.Context, cartID string) (storage.CartReport, error) {
	if err := s.ready(ctx); err != nil {
		return storage.CartReport{}, err
	}
	report := storage.CartReport{ID: cartID}
	var (
		creationDate int64
		checkoutDate sql.NullInt64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT creation_date, checkout_date FROM cart_reports WHERE id = ?`, cartID,
	).Scan(&creationDate, &checkoutDate)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CartReport{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CartReport{}, fmt.Errorf("get cart report: %w", err)
	}
	report.CreationDate = fromMillis(creationDate)
	report.CheckoutDate = fromNullMillis(checkoutDate)
	return report, nil
}

// InsertReportIfAbsent inserts report unless a row for its id exists.
func (s *Store) InsertReportIfAbsent(ctx context.Context, report storage.CartReport) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := retryBusy(ctx, func() (sql.Result, error) {
		return s.sqlDB.ExecContext(ctx,
			`INSERT INTO cart_reports (id, creation_date, checkout_date) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			report.ID, toMillis(report.CreationDate), toNullMillis(report.CheckoutDate),
		)
	})
	if err != nil {
		return false, fmt.Errorf("insert cart report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert cart report: %w", err)
	}
	return affected == 1, nil
}

// SetCheckoutDate records the checkout date of an existing report.
func (s *Store) SetCheckoutDate(ctx context.Context, cartID string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := retryBusy(ctx, func() (sql.Result, error) {
		return s.sqlDB.ExecContext(ctx,
			`UPDATE cart_reports SET checkout_date = ? WHERE id = ?`, toMillis(at), cartID,
		)
	})
	if err != nil {
		return fmt.Errorf("set checkout date: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set checkout date: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.ReportStore = (*Store)(nil)
