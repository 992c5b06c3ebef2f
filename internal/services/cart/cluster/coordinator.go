// Package cluster assigns leased resources (shards and consumer tags) to
// nodes. Each node heartbeats into the membership table; the desired owner
// of a resource is picked by rendezvous hashing over live members, and a
// node only serves a resource while it holds an unexpired lease on it.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/cartstream/internal/platform/shard"
	"github.com/louisbranch/cartstream/internal/platform/timeouts"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// Resource name prefixes.
const (
	KindShard     = "shard"
	KindProjector = "projector"
	KindPublisher = "publisher"
)

// ResourceName formats a leased resource such as "shard/3".
func ResourceName(kind string, n int) string {
	return fmt.Sprintf("%s/%d", kind, n)
}

// Binding ties a resource to the callbacks that start and stop serving it.
// Revoke must not return until the resource is no longer served locally.
type Binding struct {
	Resource string
	Assign   func(ctx context.Context) error
	Revoke   func(ctx context.Context) error
}

// Config configures a Coordinator.
type Config struct {
	NodeID string
	// Addr is advertised to peers in the membership table.
	Addr          string
	Store         storage.ClusterStore
	LeaseTTL      time.Duration
	RenewInterval time.Duration
	Bindings      []Binding
	Now           func() time.Time
}

// Coordinator acquires, renews, and releases this node's leases.
type Coordinator struct {
	nodeID        string
	addr          string
	store         storage.ClusterStore
	ttl           time.Duration
	renewInterval time.Duration
	bindings      []Binding
	now           func() time.Time

	// held maps resource to the time of its last successful renewal. It is
	// only touched by the Run goroutine.
	held map[string]time.Time
}

// New validates cfg and creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	nodeID := strings.TrimSpace(cfg.NodeID)
	if nodeID == "" {
		return nil, errors.New("node id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("cluster store is required")
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", cfg.LeaseTTL)
	}
	if cfg.RenewInterval <= 0 || cfg.RenewInterval >= cfg.LeaseTTL {
		return nil, fmt.Errorf("renew interval %s must be positive and below lease ttl %s", cfg.RenewInterval, cfg.LeaseTTL)
	}
	seen := make(map[string]struct{}, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		if b.Resource == "" || b.Assign == nil || b.Revoke == nil {
			return nil, fmt.Errorf("binding %q is incomplete", b.Resource)
		}
		if _, dup := seen[b.Resource]; dup {
			return nil, fmt.Errorf("duplicate binding %q", b.Resource)
		}
		seen[b.Resource] = struct{}{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		nodeID:        nodeID,
		addr:          strings.TrimSpace(cfg.Addr),
		store:         cfg.Store,
		ttl:           cfg.LeaseTTL,
		renewInterval: cfg.RenewInterval,
		bindings:      slices.Clone(cfg.Bindings),
		now:           now,
		held:          map[string]time.Time{},
	}, nil
}

// NodeID returns this node's member id.
func (c *Coordinator) NodeID() string {
	return c.nodeID
}

// Run reconciles leases every renew interval until ctx ends, then revokes
// and releases everything it holds and leaves the membership table.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.renewInterval)
	defer ticker.Stop()

	for {
		if err := c.Reconcile(ctx); err != nil && ctx.Err() == nil {
			log.Printf("cluster: reconcile: %v", err)
		}
		select {
		case <-ctx.Done():
			return c.leave()
		case <-ticker.C:
		}
	}
}

// Reconcile runs one heartbeat and lease pass.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	now := c.now()
	if err := c.store.Heartbeat(ctx, c.nodeID, c.addr, now); err != nil {
		c.expireStale(ctx, now)
		return fmt.Errorf("heartbeat: %w", err)
	}
	members, err := c.liveMembers(ctx, now)
	if err != nil {
		c.expireStale(ctx, now)
		return err
	}

	var errs []error
	for _, b := range c.bindings {
		if err := c.reconcileOne(ctx, b, members, now); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Resource, err))
		}
	}
	return errors.Join(errs...)
}

// Holds reports whether this node currently holds resource. It must not be
// called concurrently with Run.
func (c *Coordinator) Holds(resource string) bool {
	_, ok := c.held[resource]
	return ok
}

func (c *Coordinator) liveMembers(ctx context.Context, now time.Time) ([]string, error) {
	members, err := c.store.ListMembers(ctx, now.Add(-c.ttl))
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	ids := make([]string, 0, len(members)+1)
	for _, m := range members {
		ids = append(ids, m.NodeID)
	}
	if !slices.Contains(ids, c.nodeID) {
		ids = append(ids, c.nodeID)
	}
	return ids, nil
}

func (c *Coordinator) reconcileOne(ctx context.Context, b Binding, members []string, now time.Time) error {
	_, holding := c.held[b.Resource]
	if shard.Owner(b.Resource, members) != c.nodeID {
		if holding {
			return c.handOff(ctx, b)
		}
		return nil
	}

	ok, err := c.store.AcquireLease(ctx, b.Resource, c.nodeID, now, c.ttl)
	if err != nil {
		if holding && c.unsafe(b.Resource, now) {
			c.revokeLocal(ctx, b, "renewal failed")
		}
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		if holding {
			c.revokeLocal(ctx, b, "lease taken over")
		}
		return nil
	}
	if holding {
		c.held[b.Resource] = now
		return nil
	}
	if err := b.Assign(ctx); err != nil {
		_ = c.store.ReleaseLease(ctx, b.Resource, c.nodeID)
		return fmt.Errorf("assign: %w", err)
	}
	c.held[b.Resource] = now
	log.Printf("cluster: %s acquired %s", c.nodeID, b.Resource)
	return nil
}

// handOff stops serving the resource before giving up its lease.
func (c *Coordinator) handOff(ctx context.Context, b Binding) error {
	if err := b.Revoke(ctx); err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	delete(c.held, b.Resource)
	if err := c.store.ReleaseLease(ctx, b.Resource, c.nodeID); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	log.Printf("cluster: %s handed off %s", c.nodeID, b.Resource)
	return nil
}

// unsafe reports whether the last renewal is old enough that another node
// may soon take the lease over.
func (c *Coordinator) unsafe(resource string, now time.Time) bool {
	renewed, ok := c.held[resource]
	if !ok {
		return false
	}
	return now.Sub(renewed) >= c.ttl*2/3
}

func (c *Coordinator) expireStale(ctx context.Context, now time.Time) {
	for _, b := range c.bindings {
		if c.unsafe(b.Resource, now) {
			c.revokeLocal(ctx, b, "renewal overdue")
		}
	}
}

func (c *Coordinator) revokeLocal(ctx context.Context, b Binding, reason string) {
	if err := b.Revoke(ctx); err != nil {
		log.Printf("cluster: revoke %s: %v", b.Resource, err)
	}
	delete(c.held, b.Resource)
	log.Printf("cluster: %s dropped %s: %s", c.nodeID, b.Resource, reason)
}

func (c *Coordinator) leave() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()

	var errs []error
	for _, b := range c.bindings {
		if _, ok := c.held[b.Resource]; !ok {
			continue
		}
		if err := c.handOff(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Resource, err))
		}
	}
	if err := c.store.RemoveMember(ctx, c.nodeID); err != nil {
		errs = append(errs, fmt.Errorf("remove member: %w", err))
	}
	return errors.Join(errs...)
}
