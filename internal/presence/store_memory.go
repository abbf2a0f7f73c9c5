package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests. It does not expire records.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Presence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Presence)}
}

func (s *MemoryStore) Upsert(ctx context.Context, p Presence) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(p.TenantID, p.PartyID)
	prev := StatusOffline
	if old, ok := s.records[key]; ok {
		prev = old.Status
	}
	s.records[key] = p
	return prev, nil
}

func (s *MemoryStore) Touch(ctx context.Context, tenantID, partyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(tenantID, partyID)
	if p, ok := s.records[key]; ok {
		p.LastSeen = at
		s.records[key] = p
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, partyID string) (Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.records[recordKey(tenantID, partyID)]; ok {
		return p, nil
	}
	return Presence{PartyID: partyID, TenantID: tenantID, Status: StatusOffline}, nil
}

func (s *MemoryStore) Roster(ctx context.Context, tenantID string) ([]Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Presence
	for _, p := range s.records {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sortRoster(out)
	return out, nil
}

func sortRoster(list []Presence) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastSeen.After(list[j].LastSeen)
	})
}
