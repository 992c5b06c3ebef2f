// Package topic defines a partitioned, offset-addressed message topic and an
// at-least-once consumer loop over it.
//
// Messages with the same key always land in the same partition, and a
// partition is read in offset order, so per-key ordering holds end to end.
// Consumers commit an offset only after their handler succeeds; a crash
// between the two redelivers the message.
package topic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/cartstream/internal/platform/shard"
)

// Message is one record in a topic partition.
type Message struct {
	Topic       string
	Partition   int
	Offset      int64
	ID          string
	Key         string
	Payload     []byte
	PublishedAt time.Time
}

// Publisher appends messages to a topic. Publish returns only after the
// message is durable; the returned Message carries its assigned offset.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) (Message, error)
}

// Reader reads a partition in offset order.
type Reader interface {
	Partitions() int
	Read(ctx context.Context, topic string, partition int, afterOffset int64, limit int) ([]Message, error)
}

// OffsetStore persists consumer group positions per partition.
type OffsetStore interface {
	GetOffset(ctx context.Context, group, topic string, partition int) (int64, error)
	CommitOffset(ctx context.Context, group, topic string, partition int, offset int64) error
}

// Broker is the full surface a topic backend provides.
type Broker interface {
	Publisher
	Reader
	OffsetStore
}

// PartitionFor returns the partition for key on a topic with n partitions.
func PartitionFor(key string, n int) int {
	return shard.Of(key, n)
}

func validatePublish(topic, key string) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("topic is required")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("message key is required")
	}
	return nil
}
