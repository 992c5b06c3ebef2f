// Package entity runs the cart state machine against the event journal: it
// rebuilds state by replay, persists each accepted event before replying,
// and folds the stored event to produce the reply.
//
// An Entity is not safe for concurrent use. The router gives each cart a
// single goroutine that owns its Entity.
package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
)

const replayPageSize = 200

var (
	// ErrJournalRequired indicates a missing event journal.
	ErrJournalRequired = errors.New("event journal is required")
	// ErrCartIDRequired indicates a missing cart id.
	ErrCartIDRequired = errors.New("cart id is required")
)

// Journal is the subset of the event store an entity uses.
type Journal interface {
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Event, error)
}

// Config describes one cart entity.
type Config struct {
	CartID  string
	Tags    int
	Journal Journal
	Now     func() time.Time
}

// Entity is the live write model of one cart.
type Entity struct {
	cartID  string
	tag     int
	journal Journal
	now     func() time.Time

	state  cart.State
	seq    uint64
	loaded bool
}

// New creates an unloaded entity. The first Handle replays the journal.
func New(cfg Config) (*Entity, error) {
	cartID := strings.TrimSpace(cfg.CartID)
	if cartID == "" {
		return nil, ErrCartIDRequired
	}
	if cfg.Journal == nil {
		return nil, ErrJournalRequired
	}
	if cfg.Tags <= 0 {
		return nil, fmt.Errorf("tag count must be positive, got %d", cfg.Tags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Entity{
		cartID:  cartID,
		tag:     event.TagFor(cartID, cfg.Tags),
		journal: cfg.Journal,
		now:     now,
	}, nil
}

// CartID returns the cart this entity owns.
func (e *Entity) CartID() string {
	return e.cartID
}

// Seq returns the sequence of the last folded event.
func (e *Entity) Seq() uint64 {
	return e.seq
}

// Load rebuilds state from the full journal.
func (e *Entity) Load(ctx context.Context) error {
	state, seq, err := Replay(ctx, e.journal, e.cartID)
	if err != nil {
		return fmt.Errorf("replay cart %s: %w", e.cartID, err)
	}
	e.state, e.seq, e.loaded = state, seq, true
	return nil
}

// Handle decides cmd, appends the resulting event, and replies from the
// state folded with the stored event. An append failure leaves the state as
// it was and forces a replay before the next command, since the append may
// have landed.
func (e *Entity) Handle(ctx context.Context, cmd cart.Command) (cart.Confirmation, error) {
	if !e.loaded {
		if err := e.Load(ctx); err != nil {
			return nil, err
		}
	}

	decision := cart.Decide(e.state, e.cartID, cmd, e.now)
	if decision.Rejected() || len(decision.Events) == 0 {
		return cart.Confirm(decision, e.state), nil
	}

	next, seq := e.state, e.seq
	for _, evt := range decision.Events {
		stored, err := cart.Encode(e.cartID, seq+1, e.tag, evt)
		if err != nil {
			return nil, err
		}
		appended, err := e.journal.AppendEvent(ctx, stored)
		if err != nil {
			e.loaded = false
			return nil, fmt.Errorf("append %s for cart %s: %w", stored.Type, e.cartID, err)
		}
		next, err = cart.FoldStored(next, appended)
		if err != nil {
			e.loaded = false
			return nil, err
		}
		seq = appended.Seq
	}
	e.state, e.seq = next, seq
	return cart.Confirm(decision, e.state), nil
}

// Replay folds every stored event of cartID onto the empty state and
// returns the state with the last sequence number.
func Replay(ctx context.Context, journal Journal, cartID string) (cart.State, uint64, error) {
	if journal == nil {
		return cart.State{}, 0, ErrJournalRequired
	}
	state := cart.State{Items: map[string]int{}}
	var lastSeq uint64
	for {
		events, err := journal.ListEvents(ctx, cartID, lastSeq, replayPageSize)
		if err != nil {
			return cart.State{}, 0, err
		}
		for _, stored := range events {
			if stored.Seq != lastSeq+1 {
				return cart.State{}, 0, fmt.Errorf("event sequence gap: expected %d got %d", lastSeq+1, stored.Seq)
			}
			state, err = cart.FoldStored(state, stored)
			if err != nil {
				return cart.State{}, 0, err
			}
			lastSeq = stored.Seq
		}
		if len(events) < replayPageSize {
			return state, lastSeq, nil
		}
	}
}
