package calls

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository with the same conditional-write
// semantics as the Postgres implementation. Useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu       sync.Mutex
	attempts map[string]CallAttempt
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{attempts: make(map[string]CallAttempt)}
}

func (r *MemoryRepo) Create(ctx context.Context, a CallAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attempts[a.AttemptID]; ok {
		return fmt.Errorf("calls: attempt %s already exists", a.AttemptID)
	}
	r.attempts[a.AttemptID] = a
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, attemptID string) (CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return CallAttempt{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) Transition(ctx context.Context, attemptID string, from, to State, now time.Time) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("calls: illegal transition %s -> %s", from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok || a.State != from {
		return false, nil
	}
	a.State = to
	a.UpdatedAt = now
	r.attempts[attemptID] = a
	return true, nil
}

func (r *MemoryRepo) MarkEnded(ctx context.Context, attemptID string, endedAt time.Time, durationSeconds int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok || a.State != StateConnected {
		return false, nil
	}
	a.State = StateEnded
	t := endedAt
	a.EndedAt = &t
	d := durationSeconds
	a.DurationSeconds = &d
	a.UpdatedAt = endedAt
	r.attempts[attemptID] = a
	return true, nil
}

func (r *MemoryRepo) ListByParty(ctx context.Context, tenantID, partyID string, limit int) ([]CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallAttempt
	for _, a := range r.attempts {
		if a.TenantID == tenantID && (a.CallerID == partyID || a.CalleeID == partyID) {
			out = append(out, a)
		}
	}
	return sortAndClamp(out, limit), nil
}

func (r *MemoryRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]CallAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallAttempt
	for _, a := range r.attempts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return sortAndClamp(out, limit), nil
}

func sortAndClamp(list []CallAttempt, limit int) []CallAttempt {
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
