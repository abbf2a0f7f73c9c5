package presence

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicebridge/internal/realtime"
)

type capturedEmit struct {
	tenantID string
	event    string
	data     any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	emits []capturedEmit
}

func (b *fakeBroadcaster) EmitToTenant(tenantID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emits = append(b.emits, capturedEmit{tenantID: tenantID, event: event, data: data})
}

func (b *fakeBroadcaster) all() []capturedEmit {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]capturedEmit, len(b.emits))
	copy(out, b.emits)
	return out
}

func newTestRegistry(resolver TenantResolver) (*Registry, *MemoryStore, *fakeBroadcaster) {
	store := NewMemoryStore()
	events := &fakeBroadcaster{}
	if resolver == nil {
		resolver = &StaticTenantResolver{}
	}
	reg := NewRegistry(store, resolver, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return reg, store, events
}

func TestConnectMarksOnlineAndBroadcasts(t *testing.T) {
	reg, _, events := newTestRegistry(nil)
	ctx := context.Background()

	tenant, err := reg.Connect(ctx, "agent-1", "acme")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tenant != "acme" {
		t.Fatalf("filing tenant = %q, want acme", tenant)
	}

	p, err := reg.Get(ctx, "acme", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != StatusOnline {
		t.Fatalf("status = %s, want %s", p.Status, StatusOnline)
	}

	emits := events.all()
	if len(emits) != 1 {
		t.Fatalf("emits = %d, want 1", len(emits))
	}
	if emits[0].tenantID != "acme" || emits[0].event != realtime.EventPresenceUpdate {
		t.Fatalf("unexpected emit %+v", emits[0])
	}
}

func TestPortalCustomerFiledUnderCRMTenant(t *testing.T) {
	resolver := &StaticTenantResolver{Portal: map[string]string{"cust-9": "acme"}}
	reg, _, events := newTestRegistry(resolver)
	ctx := context.Background()

	tenant, err := reg.Connect(ctx, "cust-9", "portal-tenant")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if tenant != "acme" {
		t.Fatalf("filing tenant = %q, want acme", tenant)
	}
	if _, err := reg.Get(ctx, "acme", "cust-9"); err != nil {
		t.Fatalf("presence not filed under CRM tenant: %v", err)
	}
	emits := events.all()
	if len(emits) != 1 || emits[0].tenantID != "acme" {
		t.Fatalf("broadcast did not go to CRM tenant: %+v", emits)
	}
}

func TestRepeatedConnectDoesNotRebroadcast(t *testing.T) {
	reg, _, events := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := reg.Connect(ctx, "agent-1", "acme"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := reg.Connect(ctx, "agent-1", "acme"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := len(events.all()); got != 1 {
		t.Fatalf("emits = %d, want 1 (no rebroadcast for unchanged status)", got)
	}
}

func TestBusyLifecycle(t *testing.T) {
	reg, _, events := newTestRegistry(nil)
	ctx := context.Background()

	if _, err := reg.Connect(ctx, "agent-1", "acme"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := reg.SetBusy(ctx, "acme", "agent-1", "acme-call-a-b-1"); err != nil {
		t.Fatalf("SetBusy: %v", err)
	}
	p, err := reg.Get(ctx, "acme", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != StatusBusy || p.CurrentRoom != "acme-call-a-b-1" {
		t.Fatalf("busy presence = %+v", p)
	}

	if err := reg.ClearBusy(ctx, "acme", "agent-1"); err != nil {
		t.Fatalf("ClearBusy: %v", err)
	}
	p, _ = reg.Get(ctx, "acme", "agent-1")
	if p.Status != StatusOnline || p.CurrentRoom != "" {
		t.Fatalf("after ClearBusy presence = %+v", p)
	}

	// online, busy, online again
	if got := len(events.all()); got != 3 {
		t.Fatalf("emits = %d, want 3", got)
	}
}

func TestDisconnectMarksOffline(t *testing.T) {
	reg, _, events := newTestRegistry(nil)
	ctx := context.Background()

	tenant, err := reg.Connect(ctx, "agent-1", "acme")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := reg.Disconnect(ctx, tenant, "agent-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	p, err := reg.Get(ctx, "acme", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != StatusOffline {
		t.Fatalf("status = %s, want %s", p.Status, StatusOffline)
	}
	if got := len(events.all()); got != 2 {
		t.Fatalf("emits = %d, want 2", got)
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	reg, store, _ := newTestRegistry(nil)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.clock = func() time.Time { return base }
	if _, err := reg.Connect(ctx, "agent-1", "acme"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	reg.clock = func() time.Time { return base.Add(20 * time.Second) }
	if err := reg.Heartbeat(ctx, "acme", "agent-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	p, err := store.Get(ctx, "acme", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p.LastSeen.Equal(base.Add(20 * time.Second)) {
		t.Fatalf("last seen = %s, want %s", p.LastSeen, base.Add(20*time.Second))
	}
	if p.Status != StatusOnline {
		t.Fatalf("heartbeat must not change status, got %s", p.Status)
	}
}

func TestHeartbeatWithoutRecordIsNoop(t *testing.T) {
	reg, store, events := newTestRegistry(nil)
	ctx := context.Background()

	// a stale client heartbeating after its record aged out must not bring
	// back a record with no status
	if err := reg.Heartbeat(ctx, "acme", "agent-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	p, err := store.Get(ctx, "acme", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Status != StatusOffline {
		t.Fatalf("status = %q, want %s", p.Status, StatusOffline)
	}
	if !p.LastSeen.IsZero() {
		t.Fatalf("heartbeat resurrected an expired record: last seen %s", p.LastSeen)
	}
	roster, err := reg.Roster(ctx, "acme")
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(roster) != 0 {
		t.Fatalf("roster = %+v, want empty", roster)
	}
	if got := events.all(); len(got) != 0 {
		t.Fatalf("broadcasts = %d, want 0", len(got))
	}
}

func TestRosterOrderedByRecency(t *testing.T) {
	reg, _, _ := newTestRegistry(nil)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		reg.clock = func() time.Time { return at }
		if _, err := reg.Connect(ctx, id, "acme"); err != nil {
			t.Fatalf("Connect %s: %v", id, err)
		}
	}

	roster, err := reg.Roster(ctx, "acme")
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("roster size = %d, want 3", len(roster))
	}
	if roster[0].PartyID != "c" || roster[2].PartyID != "a" {
		t.Fatalf("roster not recency ordered: %+v", roster)
	}
}
