// Package sharding routes cart commands to a single live worker per cart.
//
// Carts hash onto a fixed number of shards. A shard accepts traffic only
// while this node owns it; each owned shard keeps a table of active
// workers, one goroutine per cart, so commands for one cart are handled
// strictly one at a time. Commands for shards owned elsewhere are handed
// to a Forwarder.
package sharding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/platform/shard"
	"github.com/louisbranch/cartstream/internal/platform/timeouts"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
)

// Handler processes the commands of one cart. Implementations are only ever
// called from the cart's worker goroutine.
type Handler interface {
	Handle(ctx context.Context, cmd cart.Command) (cart.Confirmation, error)
}

// Factory builds the handler for a cart on activation.
type Factory func(cartID string) (Handler, error)

// Forwarder delivers a command to the node that owns shard. It returns a
// SHARD_NOT_OWNED error while no live node owns the shard.
type Forwarder interface {
	Forward(ctx context.Context, shard int, cartID string, cmd cart.Command) (cart.Confirmation, error)
}

// forwardRetry spaces forwarding attempts while a shard has no owner.
const forwardRetry = 25 * time.Millisecond

// Config configures a Router.
type Config struct {
	// Shards is the number of shards carts hash onto.
	Shards int
	// AskTimeout bounds every Ask. Zero uses timeouts.CommandAsk.
	AskTimeout time.Duration
	// PassivateAfter stops workers idle this long. Zero disables passivation.
	PassivateAfter time.Duration
	// NewHandler activates a cart.
	NewHandler Factory
	// Forward reaches remote owners. Nil rejects commands for shards this
	// node does not own.
	Forward Forwarder
}

// Router dispatches commands to cart workers.
type Router struct {
	askTimeout     time.Duration
	passivateAfter time.Duration
	newHandler     Factory
	forward        Forwarder
	shards         []*shardTable
}

type shardTable struct {
	mu      sync.Mutex
	owned   bool
	workers map[string]*worker
	// draining holds stopped-but-not-exited workers from an interrupted
	// Quiesce. A cart is not reactivated while its old worker drains.
	draining map[string]*worker
}

type request struct {
	ctx   context.Context
	cmd   cart.Command
	reply chan result
}

type result struct {
	conf cart.Confirmation
	err  error
}

type worker struct {
	cartID  string
	handler Handler
	inbox   chan request
	stop    chan struct{}
	stopped chan struct{}
}

// New creates a router that owns no shards.
func New(cfg Config) (*Router, error) {
	if cfg.Shards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", cfg.Shards)
	}
	if cfg.NewHandler == nil {
		return nil, errors.New("handler factory is required")
	}
	askTimeout := cfg.AskTimeout
	if askTimeout <= 0 {
		askTimeout = timeouts.CommandAsk
	}
	shards := make([]*shardTable, cfg.Shards)
	for i := range shards {
		shards[i] = &shardTable{workers: map[string]*worker{}, draining: map[string]*worker{}}
	}
	return &Router{
		askTimeout:     askTimeout,
		passivateAfter: cfg.PassivateAfter,
		newHandler:     cfg.NewHandler,
		forward:        cfg.Forward,
		shards:         shards,
	}, nil
}

// Shards returns the shard count.
func (r *Router) Shards() int {
	return len(r.shards)
}

// ShardFor returns the shard carrying cartID.
func (r *Router) ShardFor(cartID string) int {
	return shard.Of(cartID, len(r.shards))
}

// Owns reports whether this node currently serves shard n.
func (r *Router) Owns(n int) bool {
	table, err := r.table(n)
	if err != nil {
		return false
	}
	table.mu.Lock()
	defer table.mu.Unlock()
	return table.owned
}

// Acquire starts accepting traffic for shard n.
func (r *Router) Acquire(n int) error {
	table, err := r.table(n)
	if err != nil {
		return err
	}
	table.mu.Lock()
	table.owned = true
	table.mu.Unlock()
	return nil
}

// AcquireAll marks every shard owned.
func (r *Router) AcquireAll() {
	for n := range r.shards {
		_ = r.Acquire(n)
	}
}

// Quiesce stops accepting traffic for shard n and waits until all of its
// workers exited, including workers left over from an earlier Quiesce that
// ended early. Commands already handed to a worker finish first.
func (r *Router) Quiesce(ctx context.Context, n int) error {
	table, err := r.table(n)
	if err != nil {
		return err
	}
	table.mu.Lock()
	table.owned = false
	for id, w := range table.workers {
		close(w.stop)
		table.draining[id] = w
		delete(table.workers, id)
	}
	pending := make([]*worker, 0, len(table.draining))
	for _, w := range table.draining {
		pending = append(pending, w)
	}
	table.mu.Unlock()

	for _, w := range pending {
		select {
		case <-w.stopped:
			table.mu.Lock()
			if table.draining[w.cartID] == w {
				delete(table.draining, w.cartID)
			}
			table.mu.Unlock()
		case <-ctx.Done():
			return fmt.Errorf("quiesce shard %d: %w", n, ctx.Err())
		}
	}
	return nil
}

// Draining returns the number of stopped workers that have not exited yet.
func (r *Router) Draining() int {
	total := 0
	for _, table := range r.shards {
		table.mu.Lock()
		total += len(table.draining)
		table.mu.Unlock()
	}
	return total
}

// Close quiesces every shard.
func (r *Router) Close(ctx context.Context) error {
	var errs []error
	for n := range r.shards {
		if err := r.Quiesce(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Active returns the number of live workers.
func (r *Router) Active() int {
	total := 0
	for _, table := range r.shards {
		table.mu.Lock()
		total += len(table.workers)
		table.mu.Unlock()
	}
	return total
}

// Ask sends cmd to the cart's worker and waits for its reply within the
// ask timeout. Commands for shards owned by another node are forwarded
// under the same deadline; while a shard has no live owner the forward is
// retried until the deadline passes. A timed out Ask has an unknown outcome
// and is not retried.
func (r *Router) Ask(ctx context.Context, cartID string, cmd cart.Command) (cart.Confirmation, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, apperrors.New(apperrors.CodeCartIDRequired, "cart id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	for {
		conf, err := r.askLocal(ctx, cartID, cmd)
		if r.forward == nil || apperrors.CodeOf(err) != apperrors.CodeShardNotOwned {
			return conf, err
		}
		conf, err = r.forward.Forward(ctx, r.ShardFor(cartID), cartID, cmd)
		if apperrors.CodeOf(err) != apperrors.CodeShardNotOwned {
			return conf, err
		}
		timer := time.NewTimer(forwardRetry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
	}
}

// AskLocal is Ask without forwarding. It serves commands forwarded by
// peers, which must not bounce back across the cluster.
func (r *Router) AskLocal(ctx context.Context, cartID string, cmd cart.Command) (cart.Confirmation, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, apperrors.New(apperrors.CodeCartIDRequired, "cart id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()
	return r.askLocal(ctx, cartID, cmd)
}

func (r *Router) askLocal(ctx context.Context, cartID string, cmd cart.Command) (cart.Confirmation, error) {
	req := request{ctx: ctx, cmd: cmd, reply: make(chan result, 1)}
	for {
		w, draining, err := r.worker(cartID)
		if err != nil {
			return nil, err
		}
		if draining != nil {
			select {
			case <-draining:
				continue
			case <-ctx.Done():
				return nil, r.askError(ctx, cartID)
			}
		}
		select {
		case w.inbox <- req:
			select {
			case res := <-req.reply:
				return res.conf, res.err
			case <-ctx.Done():
				return nil, r.askError(ctx, cartID)
			}
		case <-w.stopped:
			// Passivated or quiesced between lookup and send.
			continue
		case <-ctx.Done():
			return nil, r.askError(ctx, cartID)
		}
	}
}

func (r *Router) askError(ctx context.Context, cartID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.WithMetadata(apperrors.CodeTimeout,
			fmt.Sprintf("Cart %s did not reply within %s", cartID, r.askTimeout),
			map[string]string{"cartId": cartID})
	}
	return ctx.Err()
}

func (r *Router) table(n int) (*shardTable, error) {
	if n < 0 || n >= len(r.shards) {
		return nil, fmt.Errorf("shard %d out of range [0,%d)", n, len(r.shards))
	}
	return r.shards[n], nil
}

// worker returns the live worker for cartID, activating one if needed.
// While an earlier worker for the cart is still draining it returns that
// worker's stopped channel instead.
func (r *Router) worker(cartID string) (*worker, <-chan struct{}, error) {
	n := r.ShardFor(cartID)
	table := r.shards[n]
	table.mu.Lock()
	defer table.mu.Unlock()
	if !table.owned {
		return nil, nil, apperrors.WithMetadata(apperrors.CodeShardNotOwned,
			fmt.Sprintf("Shard %d is not served by this node", n),
			map[string]string{"cartId": cartID, "shard": fmt.Sprint(n)})
	}
	if w, ok := table.workers[cartID]; ok {
		return w, nil, nil
	}
	if old, ok := table.draining[cartID]; ok {
		select {
		case <-old.stopped:
			delete(table.draining, cartID)
		default:
			return nil, old.stopped, nil
		}
	}
	handler, err := r.newHandler(cartID)
	if err != nil {
		return nil, nil, fmt.Errorf("activate cart %s: %w", cartID, err)
	}
	w := &worker{
		cartID:  cartID,
		handler: handler,
		inbox:   make(chan request),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	table.workers[cartID] = w
	go r.run(table, w)
	return w, nil, nil
}

func (r *Router) run(table *shardTable, w *worker) {
	defer close(w.stopped)

	var idle <-chan time.Time
	var timer *time.Timer
	if r.passivateAfter > 0 {
		timer = time.NewTimer(r.passivateAfter)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case req := <-w.inbox:
			r.serve(w, req)
			if timer != nil {
				timer.Reset(r.passivateAfter)
			}
		case <-w.stop:
			return
		case <-idle:
			table.mu.Lock()
			if table.workers[w.cartID] == w {
				delete(table.workers, w.cartID)
			}
			table.mu.Unlock()
			return
		}
	}
}

func (r *Router) serve(w *worker, req request) {
	if req.ctx.Err() != nil {
		// The caller already gave up.
		return
	}
	// An in-flight append runs to completion even if the caller leaves.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), r.askTimeout)
	defer cancel()

	conf, err := w.handler.Handle(ctx, req.cmd)
	if err != nil {
		log.Printf("cart %s: handle %T: %v", w.cartID, req.cmd, err)
	}
	req.reply <- result{conf: conf, err: err}
}
