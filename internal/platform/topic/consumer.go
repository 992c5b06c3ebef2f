package topic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 100
)

// Handler processes one message. Returning an error leaves the offset
// uncommitted and the message is retried.
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig describes one consumer group subscription.
type ConsumerConfig struct {
	Group        string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	// RetryBackoff builds the retry policy for failing handlers. Nil uses an
	// exponential backoff capped at 30s.
	RetryBackoff func() backoff.BackOff
}

// Consume runs one loop per partition until ctx ends or a partition fails
// with an offset store error. Handler errors are retried in place.
func Consume(ctx context.Context, broker Broker, cfg ConsumerConfig, handle Handler) error {
	if broker == nil {
		return errors.New("broker is required")
	}
	if handle == nil {
		return errors.New("handler is required")
	}
	if strings.TrimSpace(cfg.Group) == "" || strings.TrimSpace(cfg.Topic) == "" {
		return errors.New("consumer group and topic are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RetryBackoff == nil {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for partition := 0; partition < broker.Partitions(); partition++ {
		group.Go(func() error {
			return consumePartition(groupCtx, broker, cfg, partition, handle)
		})
	}
	err := group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func consumePartition(ctx context.Context, broker Broker, cfg ConsumerConfig, partition int, handle Handler) error {
	offset, err := broker.GetOffset(ctx, cfg.Group, cfg.Topic, partition)
	if err != nil {
		return fmt.Errorf("load offset %s/%s/%d: %w", cfg.Group, cfg.Topic, partition, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := broker.Read(ctx, cfg.Topic, partition, offset, cfg.BatchSize)
		if err != nil {
			log.Printf("topic %s partition %d read: %v", cfg.Topic, partition, err)
			batch = nil
		}
		for _, msg := range batch {
			if err := handleWithRetry(ctx, cfg, msg, handle); err != nil {
				return err
			}
			if err := broker.CommitOffset(ctx, cfg.Group, cfg.Topic, partition, msg.Offset); err != nil {
				return fmt.Errorf("commit offset %s/%s/%d: %w", cfg.Group, cfg.Topic, partition, err)
			}
			offset = msg.Offset
		}
		if len(batch) == cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}
}

func handleWithRetry(ctx context.Context, cfg ConsumerConfig, msg Message, handle Handler) error {
	policy := cfg.RetryBackoff()
	for {
		err := handle(ctx, msg)
		if err == nil {
			return nil
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("handle %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		log.Printf("topic %s partition %d offset %d handler failed, retrying in %v: %v", msg.Topic, msg.Partition, msg.Offset, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func defaultRetryBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	return policy
}
