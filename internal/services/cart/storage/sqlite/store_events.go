package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/louisbranch/cartstream/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

const defaultListLimit = 200

// AppendEvent appends evt in a transaction after checking that its Seq
// directly follows the cart's latest. SQLite serializes writers, so the
// assigned offset order is the commit order.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return event.Event{}, err
	}
	if err := evt.Validate(); err != nil {
		return event.Event{}, err
	}
	evt.Timestamp = fromMillis(toMillis(evt.Timestamp))
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}

	offset, err := retryBusy(ctx, func() (int64, error) {
		return s.appendTx(ctx, evt)
	})
	if err != nil {
		return event.Event{}, err
	}
	evt.Offset = uint64(offset)
	return evt, nil
}

func (s *Store) appendTx(ctx context.Context, evt event.Event) (int64, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE cart_id = ?`, evt.CartID,
	).Scan(&latest); err != nil {
		return 0, fmt.Errorf("load latest seq: %w", err)
	}
	if latest+1 != evt.Seq {
		return 0, storage.ErrConcurrentWrite
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO events (cart_id, seq, tag, event_type, occurred_at, payload_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		evt.CartID, int64(evt.Seq), evt.Tag, string(evt.Type), toMillis(evt.Timestamp), evt.PayloadJSON,
	)
	if err != nil {
		if sqlitemigrate.IsConstraintError(err) {
			return 0, storage.ErrConcurrentWrite
		}
		return 0, fmt.Errorf("insert event: %w", err)
	}
	offset, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event offset: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return offset, nil
}

// ListEvents returns a cart's events after afterSeq ordered by Seq.
func (s *Store) ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT offset_id, cart_id, seq, tag, event_type, occurred_at, payload_json
		 FROM events WHERE cart_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		cartID, int64(afterSeq), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

// ListEventsByTag returns events of tag after afterOffset in commit order.
func (s *Store) ListEventsByTag(ctx context.Context, tag int, afterOffset uint64, limit int) ([]event.Event, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT offset_id, cart_id, seq, tag, event_type, occurred_at, payload_json
		 FROM events WHERE tag = ? AND offset_id > ? ORDER BY offset_id LIMIT ?`,
		tag, int64(afterOffset), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events by tag: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()
	var out []event.Event
	for rows.Next() {
		var (
			evt        event.Event
			eventType  string
			occurredAt int64
		)
		if err := rows.Scan(&evt.Offset, &evt.CartID, &evt.Seq, &evt.Tag, &eventType, &occurredAt, &evt.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = event.Type(eventType)
		evt.Timestamp = fromMillis(occurredAt)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

var _ storage.EventStore = (*Store)(nil)
