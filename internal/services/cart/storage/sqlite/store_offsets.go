package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// GetOffset returns the committed offset of consumer for tag.
func (s *Store) GetOffset(ctx context.Context, consumer string, tag int) (uint64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var offset uint64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT offset_id FROM consumer_offsets WHERE consumer = ? AND tag = ?`, consumer, tag,
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get consumer offset: %w", err)
	}
	return offset, nil
}

// SaveOffset upserts the committed offset of consumer for tag.
func (s *Store) SaveOffset(ctx context.Context, consumer string, tag int, offset uint64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(consumer) == "" {
		return errors.New("consumer is required")
	}
	_, err := retryBusy(ctx, func() (sql.Result, error) {
		return s.sqlDB.ExecContext(ctx,
			`INSERT INTO consumer_offsets (consumer, tag, offset_id, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(consumer, tag) DO UPDATE SET
			     offset_id = excluded.offset_id,
			     updated_at = excluded.updated_at`,
			consumer, tag, int64(offset), toMillis(s.now()),
		)
	})
	if err != nil {
		return fmt.Errorf("save consumer offset: %w", err)
	}
	return nil
}

var _ storage.OffsetStore = (*Store)(nil)
