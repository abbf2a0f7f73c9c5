package presence

import (
	"context"
	"log/slog"
	"time"

	"voicebridge/internal/realtime"
)

// Broadcaster pushes presence changes to every live connection in a tenant.
type Broadcaster interface {
	EmitToTenant(tenantID, event string, data any)
}

// Registry tracks which parties are reachable and tells the rest of a tenant
// when that changes. Status transitions that do not change the observable
// status are not re-broadcast.
type Registry struct {
	store    Store
	resolver TenantResolver
	events   Broadcaster
	log      *slog.Logger
	clock    func() time.Time
}

func NewRegistry(store Store, resolver TenantResolver, events Broadcaster, log *slog.Logger) *Registry {
	return &Registry{
		store:    store,
		resolver: resolver,
		events:   events,
		log:      log,
		clock:    time.Now,
	}
}

type presenceUpdate struct {
	PartyID     string `json:"party_id"`
	Status      Status `json:"status"`
	CurrentRoom string `json:"current_room,omitempty"`
}

// Connect files the party in its presence tenant and marks it ONLINE.
// It returns the filing tenant so the caller can register the live session
// under the same scope.
func (r *Registry) Connect(ctx context.Context, partyID, accountTenantID string) (string, error) {
	tenant, err := r.resolver.FilingTenant(ctx, partyID, accountTenantID)
	if err != nil {
		return "", err
	}
	if err := r.set(ctx, tenant, partyID, StatusOnline, ""); err != nil {
		return "", err
	}
	return tenant, nil
}

// Disconnect marks the party OFFLINE. The caller passes the filing tenant
// returned by Connect.
func (r *Registry) Disconnect(ctx context.Context, tenantID, partyID string) error {
	return r.set(ctx, tenantID, partyID, StatusOffline, "")
}

// Heartbeat refreshes liveness without touching status.
func (r *Registry) Heartbeat(ctx context.Context, tenantID, partyID string) error {
	return r.store.Touch(ctx, tenantID, partyID, r.clock())
}

// SetBusy records that the party is in a call. Room is the session the
// party joined, surfaced so peers can render "in a call".
func (r *Registry) SetBusy(ctx context.Context, tenantID, partyID, room string) error {
	return r.set(ctx, tenantID, partyID, StatusBusy, room)
}

// ClearBusy returns the party to ONLINE after a call ends.
func (r *Registry) ClearBusy(ctx context.Context, tenantID, partyID string) error {
	return r.set(ctx, tenantID, partyID, StatusOnline, "")
}

func (r *Registry) Get(ctx context.Context, tenantID, partyID string) (Presence, error) {
	return r.store.Get(ctx, tenantID, partyID)
}

// Roster lists every party with a live presence record in the tenant,
// most recently seen first.
func (r *Registry) Roster(ctx context.Context, tenantID string) ([]Presence, error) {
	return r.store.Roster(ctx, tenantID)
}

func (r *Registry) set(ctx context.Context, tenantID, partyID string, status Status, room string) error {
	prev, err := r.store.Upsert(ctx, Presence{
		PartyID:     partyID,
		TenantID:    tenantID,
		Status:      status,
		LastSeen:    r.clock(),
		CurrentRoom: room,
	})
	if err != nil {
		return err
	}
	if prev == status {
		return nil
	}
	r.events.EmitToTenant(tenantID, realtime.EventPresenceUpdate,
		presenceUpdate{PartyID: partyID, Status: status, CurrentRoom: room})
	r.log.Debug("presence changed", "tenant_id", tenantID, "party_id", partyID, "status", status)
	return nil
}
