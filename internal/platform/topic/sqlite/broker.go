// Package sqlite stores topic partitions and consumer group offsets in a
// SQLite file shared by publishing and consuming processes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/louisbranch/cartstream/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/cartstream/internal/platform/topic"
	"github.com/louisbranch/cartstream/internal/platform/topic/sqlite/migrations"
)

// publishRetries bounds attempts when another writer holds the database or
// claimed the same partition offset first.
const publishRetries = 8

// Broker is a SQLite-backed topic.Broker.
type Broker struct {
	sqlDB      *sql.DB
	partitions int
	now        func() time.Time
}

// Open opens the broker database at path.
func Open(ctx context.Context, path string, partitions int) (*Broker, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", partitions)
	}
	sqlDB, err := sqlitemigrate.Open(ctx, path, migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open broker: %w", err)
	}
	return &Broker{sqlDB: sqlDB, partitions: partitions, now: time.Now}, nil
}

// Close closes the underlying database.
func (b *Broker) Close() error {
	if b == nil || b.sqlDB == nil {
		return nil
	}
	return b.sqlDB.Close()
}

// Partitions returns the configured partition count.
func (b *Broker) Partitions() int {
	return b.partitions
}

// Publish appends payload to the partition for key.
func (b *Broker) Publish(ctx context.Context, topicName, key string, payload []byte) (topic.Message, error) {
	if err := ctx.Err(); err != nil {
		return topic.Message{}, err
	}
	if b == nil || b.sqlDB == nil {
		return topic.Message{}, errors.New("storage is not configured")
	}
	if strings.TrimSpace(topicName) == "" || strings.TrimSpace(key) == "" {
		return topic.Message{}, errors.New("topic and key are required")
	}

	msg := topic.Message{
		Topic:       topicName,
		Partition:   topic.PartitionFor(key, b.partitions),
		ID:          uuid.NewString(),
		Key:         key,
		Payload:     append([]byte(nil), payload...),
		PublishedAt: b.now().UTC().Truncate(time.Millisecond),
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	offset, err := backoff.Retry(ctx, func() (int64, error) {
		offset, err := b.insert(ctx, msg)
		if err != nil && !sqlitemigrate.IsBusyError(err) && !sqlitemigrate.IsConstraintError(err) {
			return 0, backoff.Permanent(err)
		}
		return offset, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(publishRetries))
	if err != nil {
		return topic.Message{}, fmt.Errorf("publish to %s: %w", topicName, err)
	}
	msg.Offset = offset
	return msg, nil
}

func (b *Broker) insert(ctx context.Context, msg topic.Message) (int64, error) {
	tx, err := b.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(offset_id), 0) + 1 FROM topic_messages WHERE topic = ? AND partition_id = ?`,
		msg.Topic, msg.Partition,
	).Scan(&next); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO topic_messages (topic, partition_id, offset_id, message_id, message_key, payload, published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.Topic, msg.Partition, next, msg.ID, msg.Key, msg.Payload, msg.PublishedAt.UnixMilli(),
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// Read returns up to limit messages after afterOffset in offset order.
func (b *Broker) Read(ctx context.Context, topicName string, partition int, afterOffset int64, limit int) ([]topic.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b == nil || b.sqlDB == nil {
		return nil, errors.New("storage is not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.sqlDB.QueryContext(ctx,
		`SELECT offset_id, message_id, message_key, payload, published_at
		 FROM topic_messages
		 WHERE topic = ? AND partition_id = ? AND offset_id > ?
		 ORDER BY offset_id
		 LIMIT ?`,
		topicName, partition, afterOffset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read %s/%d: %w", topicName, partition, err)
	}
	defer rows.Close()

	var out []topic.Message
	for rows.Next() {
		msg := topic.Message{Topic: topicName, Partition: partition}
		var publishedAt int64
		if err := rows.Scan(&msg.Offset, &msg.ID, &msg.Key, &msg.Payload, &publishedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.PublishedAt = time.UnixMilli(publishedAt).UTC()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// GetOffset returns the committed offset for a consumer group partition.
func (b *Broker) GetOffset(ctx context.Context, group, topicName string, partition int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var offset int64
	err := b.sqlDB.QueryRowContext(ctx,
		`SELECT offset_id FROM topic_offsets WHERE group_name = ? AND topic = ? AND partition_id = ?`,
		group, topicName, partition,
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get offset: %w", err)
	}
	return offset, nil
}

// CommitOffset upserts the consumer group position.
func (b *Broker) CommitOffset(ctx context.Context, group, topicName string, partition int, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.sqlDB.ExecContext(ctx,
		`INSERT INTO topic_offsets (group_name, topic, partition_id, offset_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(group_name, topic, partition_id) DO UPDATE SET
		     offset_id = excluded.offset_id,
		     updated_at = excluded.updated_at`,
		group, topicName, partition, offset, b.now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

var _ topic.Broker = (*Broker)(nil)
