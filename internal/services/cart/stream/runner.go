// Package stream consumes the tagged cart event stream. Each tag is read by
// its own loop with its own committed offset, so tags progress and fail
// independently.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 100
)

// Handler processes one page of a tag, in offset order. The page is
// committed only when HandleBatch returns nil; any failure redelivers the
// whole page.
type Handler interface {
	HandleBatch(ctx context.Context, tag int, events []event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, tag int, events []event.Event) error

// HandleBatch calls f.
func (f HandlerFunc) HandleBatch(ctx context.Context, tag int, events []event.Event) error {
	return f(ctx, tag, events)
}

// Config configures a Runner.
type Config struct {
	// Consumer names the offset row, e.g. "cart-report".
	Consumer     string
	Events       storage.EventStore
	Offsets      storage.OffsetStore
	Handler      Handler
	PollInterval time.Duration
	BatchSize    int
	// RetryBackoff builds the policy for failing pages. Nil retries forever
	// with exponential backoff capped at 30s.
	RetryBackoff func() backoff.BackOff
	// OnHalt is called once when a tag stops on a fatal error.
	OnHalt func(tag int, err error)
}

// Runner starts and stops tag loops on demand.
type Runner struct {
	cfg Config

	mu      sync.Mutex
	running map[int]*tagLoop
	halted  map[int]error
}

type tagLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner validates cfg.
func NewRunner(cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.Consumer) == "" {
		return nil, errors.New("consumer name is required")
	}
	if cfg.Events == nil || cfg.Offsets == nil {
		return nil, errors.New("event and offset stores are required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("handler is required")
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
	return &Runner{cfg: cfg, running: map[int]*tagLoop{}, halted: map[int]error{}}, nil
}

// Consumer returns the consumer name.
func (r *Runner) Consumer() string {
	return r.cfg.Consumer
}

// Start launches the loop for tag unless it is running or halted.
func (r *Runner) Start(ctx context.Context, tag int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[tag]; ok {
		return
	}
	if _, ok := r.halted[tag]; ok {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &tagLoop{cancel: cancel, done: make(chan struct{})}
	r.running[tag] = loop
	go func() {
		defer close(loop.done)
		err := r.Run(loopCtx, tag)
		r.mu.Lock()
		if r.running[tag] == loop {
			delete(r.running, tag)
		}
		r.mu.Unlock()
		if err != nil {
			r.halt(tag, err)
		}
	}()
}

// Stop cancels the loop for tag and waits for it to exit. Work in flight
// is abandoned uncommitted.
func (r *Runner) Stop(ctx context.Context, tag int) error {
	r.mu.Lock()
	loop, ok := r.running[tag]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	loop.cancel()
	select {
	case <-loop.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s tag %d: %w", r.cfg.Consumer, tag, ctx.Err())
	}
}

// Halted returns the tags stopped by fatal errors.
func (r *Runner) Halted() map[int]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]error, len(r.halted))
	for tag, err := range r.halted {
		out[tag] = err
	}
	return out
}

// Running reports whether tag has a live loop.
func (r *Runner) Running(tag int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[tag]
	return ok
}

func (r *Runner) halt(tag int, err error) {
	r.mu.Lock()
	r.halted[tag] = err
	r.mu.Unlock()
	log.Printf("%s tag %s halted: %v", r.cfg.Consumer, event.TagName(tag), err)
	if r.cfg.OnHalt != nil {
		r.cfg.OnHalt(tag, err)
	}
}

// Run consumes tag until ctx ends, returning nil, or a fatal error stops
// it. Transient failures are retried from the last committed offset.
func (r *Runner) Run(ctx context.Context, tag int) error {
	policy := r.cfg.RetryBackoff()
	for {
		err := r.consume(ctx, tag)
		if ctx.Err() != nil {
			return nil
		}
		if IsFatal(err) {
			return err
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%s tag %d gave up: %w", r.cfg.Consumer, tag, err)
		}
		log.Printf("%s tag %s failed, retrying in %v: %v", r.cfg.Consumer, event.TagName(tag), wait, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// consume reads from the committed offset until ctx ends or a step fails.
func (r *Runner) consume(ctx context.Context, tag int) error {
	offset, err := r.cfg.Offsets.GetOffset(ctx, r.cfg.Consumer, tag)
	if err != nil {
		return fmt.Errorf("load offset: %w", err)
	}
	for {
		events, err := r.cfg.Events.ListEventsByTag(ctx, tag, offset, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("read tag: %w", err)
		}
		if len(events) > 0 {
			if err := r.cfg.Handler.HandleBatch(ctx, tag, events); err != nil {
				return err
			}
			last := events[len(events)-1].Offset
			if err := r.cfg.Offsets.SaveOffset(ctx, r.cfg.Consumer, tag, last); err != nil {
				return fmt.Errorf("commit offset %d: %w", last, err)
			}
			offset = last
		}
		if len(events) == r.cfg.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// IsFatal reports whether err must stop a tag instead of being retried.
func IsFatal(err error) bool {
	return apperrors.CodeOf(err) == apperrors.CodeProjectionInconsistent
}

func defaultRetryBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	return policy
}
