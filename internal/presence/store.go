package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the persistence contract for presence records.
//
// A missing record reads back as OFFLINE; stores may expire records that
// stop being touched, which is the liveness-eviction policy for silently
// dropped connections.
type Store interface {
	// Upsert writes the full record and returns the previously stored
	// status (OFFLINE when none), so callers can broadcast only on change.
	Upsert(ctx context.Context, p Presence) (Status, error)

	// Touch refreshes last_seen without changing status.
	Touch(ctx context.Context, tenantID, partyID string, at time.Time) error

	Get(ctx context.Context, tenantID, partyID string) (Presence, error)

	// Roster lists the tenant's presence records, most recently seen first.
	Roster(ctx context.Context, tenantID string) ([]Presence, error)
}

// RedisStore keeps each record in a hash under a TTL that is renewed on
// every upsert and heartbeat, so dropped connections age out to OFFLINE
// without a reaper process.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

const defaultRecordTTL = 5 * time.Minute

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultRecordTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func recordKey(tenantID, partyID string) string {
	return fmt.Sprintf("presence:%s:%s", tenantID, partyID)
}

func rosterKey(tenantID string) string {
	return fmt.Sprintf("presence:roster:%s", tenantID)
}

var upsertScript = redis.NewScript(`
-- KEYS[1] = presence hash key
-- KEYS[2] = tenant roster set
-- ARGV[1] = party id
-- ARGV[2] = status
-- ARGV[3] = last_seen (unix ms)
-- ARGV[4] = current room
-- ARGV[5] = ttl_ms
--
-- Returns the previous status, or '' when the record did not exist.
local prev = redis.call('HGET', KEYS[1], 'status')
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'last_seen', ARGV[3], 'current_room', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
if prev == false then
  return ''
end
return prev
`)

func (s *RedisStore) Upsert(ctx context.Context, p Presence) (Status, error) {
	prev, err := upsertScript.Run(ctx, s.rdb,
		[]string{recordKey(p.TenantID, p.PartyID), rosterKey(p.TenantID)},
		p.PartyID,
		string(p.Status),
		p.LastSeen.UnixMilli(),
		p.CurrentRoom,
		s.ttl.Milliseconds(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("presence: upsert: %w", err)
	}
	if prev == "" {
		return StatusOffline, nil
	}
	return Status(prev), nil
}

var touchScript = redis.NewScript(`
-- KEYS[1] = presence hash key
-- ARGV[1] = last_seen (unix ms)
-- ARGV[2] = ttl_ms
--
-- A heartbeat must never resurrect an expired record: a bare HSET here
-- would recreate the hash with no status field. Returns 1 when refreshed,
-- 0 when the record was already gone.
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

func (s *RedisStore) Touch(ctx context.Context, tenantID, partyID string, at time.Time) error {
	err := touchScript.Run(ctx, s.rdb,
		[]string{recordKey(tenantID, partyID)},
		at.UnixMilli(),
		s.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("presence: touch: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tenantID, partyID string) (Presence, error) {
	vals, err := s.rdb.HGetAll(ctx, recordKey(tenantID, partyID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Presence{}, fmt.Errorf("presence: get: %w", err)
	}
	if len(vals) == 0 {
		return Presence{PartyID: partyID, TenantID: tenantID, Status: StatusOffline}, nil
	}
	return fromHash(tenantID, partyID, vals), nil
}

func (s *RedisStore) Roster(ctx context.Context, tenantID string) ([]Presence, error) {
	members, err := s.rdb.SMembers(ctx, rosterKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: roster: %w", err)
	}

	out := make([]Presence, 0, len(members))
	for _, partyID := range members {
		vals, err := s.rdb.HGetAll(ctx, recordKey(tenantID, partyID)).Result()
		if err != nil {
			return nil, fmt.Errorf("presence: roster get: %w", err)
		}
		if len(vals) == 0 {
			// record expired; drop the roster entry lazily
			_ = s.rdb.SRem(ctx, rosterKey(tenantID), partyID).Err()
			continue
		}
		out = append(out, fromHash(tenantID, partyID, vals))
	}
	sortRoster(out)
	return out, nil
}

func fromHash(tenantID, partyID string, vals map[string]string) Presence {
	p := Presence{
		PartyID:     partyID,
		TenantID:    tenantID,
		Status:      Status(vals["status"]),
		CurrentRoom: vals["current_room"],
	}
	if ms, err := strconv.ParseInt(vals["last_seen"], 10, 64); err == nil {
		p.LastSeen = time.UnixMilli(ms).UTC()
	}
	return p
}
