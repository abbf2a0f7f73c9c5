// Package notify delivers call events over out-of-band push channels so a
// callee with no live connection still learns about the call.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const (
	ChannelFCM     = "fcm"
	ChannelWebPush = "webpush"
)

// Target is one registered push endpoint for a party. Credential holds the
// channel-specific handle: a device token for FCM, a subscription JSON blob
// for web push.
type Target struct {
	ID         int64
	TenantID   string
	PartyID    string
	Channel    string
	Credential string
	Stale      bool
	CreatedAt  time.Time
}

// TargetStore reads registered push targets and flags dead ones. Target
// registration itself belongs to the device/session layer; this subsystem
// only consumes targets and reports the ones the provider rejected.
type TargetStore interface {
	ListByParty(ctx context.Context, tenantID, partyID string) ([]Target, error)
	MarkStale(ctx context.Context, id int64) error
}

type PostgresTargetStore struct {
	db *sql.DB
}

func NewPostgresTargetStore(db *sql.DB) *PostgresTargetStore {
	return &PostgresTargetStore{db: db}
}

func (s *PostgresTargetStore) ListByParty(ctx context.Context, tenantID, partyID string) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, party_id, channel, credential, stale, created_at
		FROM notification_targets
		WHERE tenant_id = $1 AND party_id = $2 AND NOT stale
		ORDER BY created_at DESC`, tenantID, partyID)
	if err != nil {
		return nil, fmt.Errorf("notify: list targets: %w", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.TenantID, &t.PartyID, &t.Channel, &t.Credential, &t.Stale, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresTargetStore) MarkStale(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notification_targets SET stale = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("notify: mark target stale: %w", err)
	}
	return nil
}

// MemoryTargetStore is an in-memory TargetStore for tests.
type MemoryTargetStore struct {
	mu      sync.Mutex
	nextID  int64
	targets map[int64]Target
}

func NewMemoryTargetStore() *MemoryTargetStore {
	return &MemoryTargetStore{targets: make(map[int64]Target)}
}

func (s *MemoryTargetStore) Add(t Target) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	s.targets[t.ID] = t
	return t.ID
}

func (s *MemoryTargetStore) ListByParty(ctx context.Context, tenantID, partyID string) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Target
	for _, t := range s.targets {
		if t.TenantID == tenantID && t.PartyID == partyID && !t.Stale {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryTargetStore) MarkStale(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return nil
	}
	t.Stale = true
	s.targets[id] = t
	return nil
}

func (s *MemoryTargetStore) IsStale(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[id].Stale
}
