package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/cartstream/internal/platform/errors"
	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConcurrentWrite indicates an append collided with an existing sequence
// number. Under single-writer routing it means two writers were live for the
// same cart.
var ErrConcurrentWrite = apperrors.New(apperrors.CodeConcurrentWrite, "cart event sequence already written")

// EventStore owns the append-only cart journal.
type EventStore interface {
	// AppendEvent appends evt, whose Seq must be exactly one past the cart's
	// latest, and returns it with Offset set.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	// ListEvents returns a cart's events with Seq > afterSeq ordered by Seq.
	ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Event, error)
	// ListEventsByTag returns events of one tag with Offset > afterOffset in
	// global commit order.
	ListEventsByTag(ctx context.Context, tag int, afterOffset uint64, limit int) ([]event.Event, error)
}

// OffsetStore persists read-side consumer positions per tag.
type OffsetStore interface {
	// GetOffset returns the committed offset, zero when none was committed.
	GetOffset(ctx context.Context, consumer string, tag int) (uint64, error)
	// SaveOffset records offset as fully processed.
	SaveOffset(ctx context.Context, consumer string, tag int, offset uint64) error
}

// CartReport is the read-model row for one cart.
type CartReport struct {
	ID           string
	CreationDate time.Time
	CheckoutDate *time.Time
}

// ReportStore owns the cart report table.
type ReportStore interface {
	// Prepare creates the schema. It is idempotent.
	Prepare(ctx context.Context) error
	// GetReport returns ErrNotFound when the cart has no row.
	GetReport(ctx context.Context, cartID string) (CartReport, error)
	// InsertReportIfAbsent stores report unless a row exists and reports
	// whether it inserted.
	InsertReportIfAbsent(ctx context.Context, report CartReport) (bool, error)
	// SetCheckoutDate updates an existing row, returning ErrNotFound when
	// there is none.
	SetCheckoutDate(ctx context.Context, cartID string, at time.Time) error
}

// Member is a live node in the cart cluster.
type Member struct {
	NodeID string
	// Addr is where peers reach the node's internal gRPC endpoint.
	Addr        string
	HeartbeatAt time.Time
}

// Lease grants exclusive ownership of a resource such as a shard or a
// consumer tag until ExpiresAt.
type Lease struct {
	Resource  string
	Owner     string
	ExpiresAt time.Time
}

// ClusterStore coordinates membership and leases between nodes.
type ClusterStore interface {
	// Heartbeat upserts the member record with its advertised address.
	Heartbeat(ctx context.Context, nodeID, addr string, at time.Time) error
	// ListMembers returns members whose heartbeat is not older than since,
	// ordered by node id.
	ListMembers(ctx context.Context, since time.Time) ([]Member, error)
	// RemoveMember deletes a member record.
	RemoveMember(ctx context.Context, nodeID string) error
	// AcquireLease grants or renews resource to owner until now+ttl when
	// the lease is free, expired, or already held by owner.
	AcquireLease(ctx context.Context, resource, owner string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease frees a lease held by owner. Releasing a lease held by
	// someone else is a no-op.
	ReleaseLease(ctx context.Context, resource, owner string) error
	// GetLease returns ErrNotFound when the resource was never leased.
	GetLease(ctx context.Context, resource string) (Lease, error)
}
