package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/cartstream/internal/services/cart/storage"
)

// Heartbeat upserts the member row for nodeID.
func (s *Store) Heartbeat(ctx context.Context, nodeID, addr string, at time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := retryBusy(ctx, func() (sql.Result, error) {
		return s.sqlDB.ExecContext(ctx,
			`INSERT INTO cluster_members (node_id, addr, heartbeat_at) VALUES (?, ?, ?)
			 ON CONFLICT(node_id) DO UPDATE SET
			     addr = excluded.addr,
			     heartbeat_at = excluded.heartbeat_at`,
			nodeID, addr, toMillis(at),
		)
	})
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", nodeID, err)
	}
	return nil
}

// ListMembers returns members whose heartbeat is at or after since.
func (s *Store) ListMembers(ctx context.Context, since time.Time) ([]storage.Member, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT node_id, addr, heartbeat_at FROM cluster_members WHERE heartbeat_at >= ? ORDER BY node_id`,
		toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []storage.Member
	for rows.Next() {
		var (
			member      storage.Member
			heartbeatAt int64
		)
		if err := rows.Scan(&member.NodeID, &member.Addr, &heartbeatAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.HeartbeatAt = fromMillis(heartbeatAt)
		out = append(out, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

// RemoveMember deletes the member row for nodeID.
func (s *Store) RemoveMember(ctx context.Context, nodeID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cluster_members WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("remove member %s: %w", nodeID, err)
	}
	return nil
}

// AcquireLease grants or renews resource to owner. The conditional upsert
// only overwrites a lease that is free, expired, or already owned.
func (s *Store) AcquireLease(ctx context.Context, resource, owner string, now time.Time, ttl time.Duration) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := retryBusy(ctx, func() (sql.Result, error) {
		return s.sqlDB.ExecContext(ctx,
			`INSERT INTO cluster_leases (resource, owner, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(resource) DO UPDATE SET
			     owner = excluded.owner,
			     expires_at = excluded.expires_at
			 WHERE cluster_leases.owner = excluded.owner
			    OR cluster_leases.owner = ''
			    OR cluster_leases.expires_at <= ?`,
			resource, owner, toMillis(now.Add(ttl)), toMillis(now),
		)
	})
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", resource, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", resource, err)
	}
	return affected == 1, nil
}

// ReleaseLease clears the owner of a lease held by owner.
func (s *Store) ReleaseLease(ctx context.Context, resource, owner string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := retryBusy(ctx, func() (sql.Result, error) {
		return s.sqlDB.ExecContext(ctx,
			`UPDATE cluster_leases SET owner = '', expires_at = 0 WHERE resource = ? AND owner = ?`,
			resource, owner,
		)
	})
	if err != nil {
		return fmt.Errorf("release lease %s: %w", resource, err)
	}
	return nil
}

// GetLease returns the lease row for resource.
func (s *Store) GetLease(ctx context.Context, resource string) (storage.Lease, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Lease{}, err
	}
	lease := storage.Lease{Resource: resource}
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT owner, expires_at FROM cluster_leases WHERE resource = ?`, resource,
	).Scan(&lease.Owner, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Lease{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Lease{}, fmt.Errorf("get lease %s: %w", resource, err)
	}
	lease.ExpiresAt = fromMillis(expiresAt)
	return lease, nil
}

var _ storage.ClusterStore = (*Store)(nil)
