package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	platformgrpc "github.com/louisbranch/cartstream/internal/platform/grpc"
	"github.com/louisbranch/cartstream/internal/services/cart/cluster"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/cart"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// NodeID is this node; leases it holds are never forwarded to.
	NodeID string
	Store  storage.ClusterStore
	// LeaseTTL bounds how stale a member heartbeat may be.
	LeaseTTL time.Duration
	Now      func() time.Time
}

// Forwarder sends commands to the node holding a shard's lease.
type Forwarder struct {
	nodeID string
	store  storage.ClusterStore
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	conns map[string]*gogrpc.ClientConn
}

// NewForwarder validates cfg and creates a forwarder with no open
// connections.
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
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
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Forwarder{
		nodeID: nodeID,
		store:  cfg.Store,
		ttl:    cfg.LeaseTTL,
		now:    now,
		conns:  map[string]*gogrpc.ClientConn{},
	}, nil
}

// Forward implements sharding.Forwarder. The call runs under ctx's
// deadline, which gRPC propagates to the owner.
func (f *Forwarder) Forward(ctx context.Context, shard int, cartID string, cmd cart.Command) (cart.Confirmation, error) {
	addr, err := f.ownerAddr(ctx, shard, cartID)
	if err != nil {
		return nil, err
	}
	conn, err := f.conn(addr)
	if err != nil {
		return nil, err
	}
	env, err := encodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(askRequest{CartID: cartID, Command: env})
	if err != nil {
		return nil, fmt.Errorf("encode ask request: %w", err)
	}

	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, askMethod, wrapperspb.Bytes(payload), out); err != nil {
		return nil, f.remoteError(err, shard, cartID)
	}
	var conf confirmationEnvelope
	if err := json.Unmarshal(out.GetValue(), &conf); err != nil {
		return nil, fmt.Errorf("decode confirmation from %s: %w", addr, err)
	}
	return conf.decode(), nil
}

// ownerAddr resolves the advertised address of shard's live lease holder.
func (f *Forwarder) ownerAddr(ctx context.Context, shard int, cartID string) (string, error) {
	lease, err := f.store.GetLease(ctx, cluster.ResourceName(cluster.KindShard, shard))
	if errors.Is(err, storage.ErrNotFound) {
		return "", notOwned(shard, cartID)
	}
	if err != nil {
		return "", fmt.Errorf("get shard %d lease: %w", shard, err)
	}
	now := f.now()
	if lease.Owner == "" || lease.Owner == f.nodeID || !lease.ExpiresAt.After(now) {
		return "", notOwned(shard, cartID)
	}
	members, err := f.store.ListMembers(ctx, now.Add(-f.ttl))
	if err != nil {
		return "", fmt.Errorf("list members: %w", err)
	}
	for _, m := range members {
		if m.NodeID == lease.Owner && m.Addr != "" {
			return m.Addr, nil
		}
	}
	return "", notOwned(shard, cartID)
}

func (f *Forwarder) conn(addr string) (*gogrpc.ClientConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conn, ok := f.conns[addr]; ok {
		return conn, nil
	}
	conn, err := gogrpc.NewClient(addr, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	f.conns[addr] = conn
	return conn, nil
}

// remoteError restores the owner's domain error. An unreachable owner
// without a domain status is treated as not owned so the router retries
// once the lease moves.
func (f *Forwarder) remoteError(err error, shard int, cartID string) error {
	restored := apperrors.FromGRPCStatus(err)
	if apperrors.CodeOf(restored) == apperrors.CodeUnknown && status.Code(err) == codes.Unavailable {
		return notOwned(shard, cartID)
	}
	return restored
}

// Close releases every peer connection.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for addr, conn := range f.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
		delete(f.conns, addr)
	}
	return errors.Join(errs...)
}

func notOwned(shard int, cartID string) error {
	return apperrors.WithMetadata(apperrors.CodeShardNotOwned,
		fmt.Sprintf("Shard %d has no live owner", shard),
		map[string]string{"cartId": cartID, "shard": fmt.Sprint(shard)})
}
