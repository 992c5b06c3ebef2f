// Package publisher forwards checked-out carts from the event stream to the
// shopping-cart topic.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/cartstream/internal/platform/topic"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
)

const (
	// Consumer is the offset name of the topic publisher.
	Consumer = "cart-topic"
	// Topic receives one CartView per checkout, keyed by cart id.
	Topic = "shopping-cart"

	defaultParallelism = 4
	defaultLookupTries = 3
)

// Lookup resolves the current summary of a cart.
type Lookup interface {
	Summary(ctx context.Context, cartID string) (cart.Summary, error)
}

// Config configures a Publisher.
type Config struct {
	Lookup    Lookup
	Publisher topic.Publisher
	// Parallelism bounds concurrent lookups within a page.
	Parallelism int
	// LookupTries bounds attempts per lookup before the page fails.
	LookupTries uint
	// LookupBackoff spaces lookup attempts. Nil uses a short exponential
	// backoff.
	LookupBackoff func() backoff.BackOff
}

// Publisher publishes CheckedOut events as CartView messages.
type Publisher struct {
	lookup        Lookup
	publisher     topic.Publisher
	parallelism   int
	lookupTries   uint
	lookupBackoff func() backoff.BackOff
	tracer        trace.Tracer
}

// New validates cfg.
func New(cfg Config) (*Publisher, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("cart lookup is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("topic publisher is required")
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.LookupTries == 0 {
		cfg.LookupTries = defaultLookupTries
	}
	if cfg.LookupBackoff == nil {
		cfg.LookupBackoff = func() backoff.BackOff {
			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = 50 * time.Millisecond
			policy.MaxInterval = time.Second
			return policy
		}
	}
	return &Publisher{
		lookup:        cfg.Lookup,
		publisher:     cfg.Publisher,
		parallelism:   cfg.Parallelism,
		lookupTries:   cfg.LookupTries,
		lookupBackoff: cfg.LookupBackoff,
		tracer:        otel.Tracer("github.com/louisbranch/cartstream/internal/services/cart/publisher"),
	}, nil
}

// HandleBatch looks up every checked-out cart in the page concurrently and
// then publishes them in log order. Nothing is published unless every
// lookup succeeded.
func (p *Publisher) HandleBatch(ctx context.Context, tag int, events []event.Event) error {
	var checkouts []string
	for _, stored := range events {
		if stored.Type == cart.EventTypeCheckedOut {
			checkouts = append(checkouts, stored.CartID)
		}
	}
	if len(checkouts) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "publisher.HandleBatch", trace.WithAttributes(
		attribute.String("cart.tag", event.TagName(tag)),
		attribute.Int("cart.checkouts", len(checkouts)),
	))
	defer span.End()

	views, err := p.resolve(ctx, checkouts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for _, view := range views {
		if err := p.publish(ctx, view); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (p *Publisher) resolve(ctx context.Context, cartIDs []string) ([]cart.View, error) {
	views := make([]cart.View, len(cartIDs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.parallelism)
	for i, cartID := range cartIDs {
		group.Go(func() error {
			summary, err := backoff.Retry(groupCtx, func() (cart.Summary, error) {
				return p.lookup.Summary(groupCtx, cartID)
			}, backoff.WithBackOff(p.lookupBackoff()), backoff.WithMaxTries(p.lookupTries))
			if err != nil {
				return fmt.Errorf("look up cart %s: %w", cartID, err)
			}
			views[i] = cart.NewView(cartID, summary)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func (p *Publisher) publish(ctx context.Context, view cart.View) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode cart view %s: %w", view.ID, err)
	}
	if _, err := p.publisher.Publish(ctx, Topic, view.ID, payload); err != nil {
		return fmt.Errorf("publish cart %s: %w", view.ID, err)
	}
	return nil
}
