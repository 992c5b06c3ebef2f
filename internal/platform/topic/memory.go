package topic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Broker used by tests and standalone runs.
type MemoryBroker struct {
	partitions int
	now        func() time.Time

	mu      sync.Mutex
	logs    map[string][][]Message
	offsets map[string]int64
}

// NewMemoryBroker creates a broker with the given number of partitions per topic.
func NewMemoryBroker(partitions int) *MemoryBroker {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryBroker{
		partitions: partitions,
		now:        time.Now,
		logs:       make(map[string][][]Message),
		offsets:    make(map[string]int64),
	}
}

// Partitions returns the partition count.
func (b *MemoryBroker) Partitions() int {
	return b.partitions
}

// Publish appends a message to the partition selected by key.
func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, payload []byte) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if err := validatePublish(topic, key); err != nil {
		return Message{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	parts, ok := b.logs[topic]
	if !ok {
		parts = make([][]Message, b.partitions)
		b.logs[topic] = parts
	}
	partition := PartitionFor(key, b.partitions)
	msg := Message{
		Topic:       topic,
		Partition:   partition,
		Offset:      int64(len(parts[partition]) + 1),
		ID:          uuid.NewString(),
		Key:         key,
		Payload:     append([]byte(nil), payload...),
		PublishedAt: b.now().UTC(),
	}
	parts[partition] = append(parts[partition], msg)
	return msg, nil
}

// Read returns up to limit messages after afterOffset.
func (b *MemoryBroker) Read(ctx context.Context, topic string, partition int, afterOffset int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if partition < 0 || partition >= b.partitions {
		return nil, fmt.Errorf("partition %d out of range", partition)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	parts, ok := b.logs[topic]
	if !ok {
		return nil, nil
	}
	log := parts[partition]
	if afterOffset < 0 {
		afterOffset = 0
	}
	if afterOffset >= int64(len(log)) {
		return nil, nil
	}
	tail := log[afterOffset:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]Message(nil), tail...), nil
}

// GetOffset returns the committed offset, zero when nothing was committed.
func (b *MemoryBroker) GetOffset(ctx context.Context, group, topic string, partition int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offsets[offsetKey(group, topic, partition)], nil
}

// CommitOffset records the group position.
func (b *MemoryBroker) CommitOffset(ctx context.Context, group, topic string, partition int, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offsets[offsetKey(group, topic, partition)] = offset
	return nil
}

// Messages returns every message of topic across partitions, in partition order.
func (b *MemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, log := range b.logs[topic] {
		out = append(out, log...)
	}
	return out
}

func offsetKey(group, topic string, partition int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", group, topic, partition)
}
