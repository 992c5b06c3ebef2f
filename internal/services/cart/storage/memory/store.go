// Package memory provides in-process implementations of the cart storage
// interfaces for tests and single-process runs.
package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/domain/event"
	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// Store keeps events, offsets, reports and leases in memory.
type Store struct {
	mu      sync.Mutex
	events  []event.Event
	byCart  map[string][]int
	offsets map[string]uint64
	reports map[string]storage.CartReport
	members map[string]storage.Member
	leases  map[string]storage.Lease
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		byCart:  make(map[string][]int),
		offsets: make(map[string]uint64),
		reports: make(map[string]storage.CartReport),
		members: make(map[string]storage.Member),
		leases:  make(map[string]storage.Lease),
	}
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// AppendEvent appends evt after checking its sequence.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := checkContext(ctx); err != nil {
		return event.Event{}, err
	}
	if err := evt.Validate(); err != nil {
		return event.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	positions := s.byCart[evt.CartID]
	if uint64(len(positions))+1 != evt.Seq {
		return event.Event{}, storage.ErrConcurrentWrite
	}
	evt.Offset = uint64(len(s.events) + 1)
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
	evt.PayloadJSON = append([]byte(nil), evt.PayloadJSON...)
	s.events = append(s.events, evt)
	s.byCart[evt.CartID] = append(positions, len(s.events)-1)
	return evt, nil
}

// ListEvents returns a cart's events after afterSeq.
func (s *Store) ListEvents(ctx context.Context, cartID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	for _, idx := range s.byCart[cartID] {
		if s.events[idx].Seq <= afterSeq {
			continue
		}
		out = append(out, s.events[idx])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListEventsByTag returns events of tag after afterOffset.
func (s *Store) ListEventsByTag(ctx context.Context, tag int, afterOffset uint64, limit int) ([]event.Event, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []event.Event
	for _, evt := range s.events[min(int(afterOffset), len(s.events)):] {
		if evt.Tag != tag {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetOffset returns a consumer's committed offset.
func (s *Store) GetOffset(ctx context.Context, consumer string, tag int) (uint64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[offsetKey(consumer, tag)], nil
}

// SaveOffset records a consumer's committed offset.
func (s *Store) SaveOffset(ctx context.Context, consumer string, tag int, offset uint64) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(consumer) == "" {
		return errors.New("consumer is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[offsetKey(consumer, tag)] = offset
	return nil
}

func offsetKey(consumer string, tag int) string {
	return consumer + "/" + event.TagName(tag)
}

// Prepare is a no-op for the in-memory report table.
func (s *Store) Prepare(ctx context.Context) error {
	return checkContext(ctx)
}

// GetReport returns the report row for cartID.
func (s *Store) GetReport(ctx context.Context, cartID string) (storage.CartReport, error) {
	if err := checkContext(ctx); err != nil {
		return storage.CartReport{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[cartID]
	if !ok {
		return storage.CartReport{}, storage.ErrNotFound
	}
	return cloneReport(report), nil
}

// InsertReportIfAbsent stores report unless a row exists.
func (s *Store) InsertReportIfAbsent(ctx context.Context, report storage.CartReport) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.ID]; ok {
		return false, nil
	}
	s.reports[report.ID] = cloneReport(report)
	return true, nil
}

// SetCheckoutDate updates the checkout date of an existing row.
func (s *Store) SetCheckoutDate(ctx context.Context, cartID string, at time.Time) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[cartID]
	if !ok {
		return storage.ErrNotFound
	}
	at = at.UTC()
	report.CheckoutDate = &at
	s.reports[cartID] = report
	return nil
}

func cloneReport(report storage.CartReport) storage.CartReport {
	if report.CheckoutDate != nil {
		at := *report.CheckoutDate
		report.CheckoutDate = &at
	}
	return report
}

// Heartbeat records a member heartbeat.
func (s *Store) Heartbeat(ctx context.Context, nodeID, addr string, at time.Time) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[nodeID] = storage.Member{NodeID: nodeID, Addr: addr, HeartbeatAt: at.UTC()}
	return nil
}

// ListMembers returns members heard from since the given time.
func (s *Store) ListMembers(ctx context.Context, since time.Time) ([]storage.Member, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Member
	for _, member := range s.members {
		if !member.HeartbeatAt.Before(since) {
			out = append(out, member)
		}
	}
	slices.SortFunc(out, func(a, b storage.Member) int { return strings.Compare(a.NodeID, b.NodeID) })
	return out, nil
}

// RemoveMember deletes a member.
func (s *Store) RemoveMember(ctx context.Context, nodeID string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, nodeID)
	return nil
}

// AcquireLease grants or renews a lease.
func (s *Store) AcquireLease(ctx context.Context, resource, owner string, now time.Time, ttl time.Duration) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.leases[resource]
	if ok && current.Owner != owner && current.Owner != "" && now.Before(current.ExpiresAt) {
		return false, nil
	}
	s.leases[resource] = storage.Lease{Resource: resource, Owner: owner, ExpiresAt: now.Add(ttl).UTC()}
	return true, nil
}

// ReleaseLease frees a lease held by owner.
func (s *Store) ReleaseLease(ctx context.Context, resource, owner string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.leases[resource]; ok && current.Owner == owner {
		s.leases[resource] = storage.Lease{Resource: resource}
	}
	return nil
}

// GetLease returns the current lease of resource.
func (s *Store) GetLease(ctx context.Context, resource string) (storage.Lease, error) {
	if err := checkContext(ctx); err != nil {
		return storage.Lease{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[resource]
	if !ok {
		return storage.Lease{}, storage.ErrNotFound
	}
	return lease, nil
}

var (
	_ storage.EventStore   = (*Store)(nil)
	_ storage.OffsetStore  = (*Store)(nil)
	_ storage.ReportStore  = (*Store)(nil)
	_ storage.ClusterStore = (*Store)(nil)
)
