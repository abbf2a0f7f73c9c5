// Package media fronts the media server: it provisions rooms and mints
// short-lived join credentials. Signaling never touches media bytes; once
// both parties hold a credential the media server takes over.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"voicebridge/internal/config"
)

const (
	// rooms self-delete after five minutes empty so abandoned calls do
	// not leak server-side state
	roomEmptyTimeoutSec = 300
	roomMaxParticipants = 10
)

// Gatekeeper wraps the LiveKit room service and token minting.
type Gatekeeper struct {
	rooms     *lksdk.RoomServiceClient
	apiKey    string
	apiSecret string
	ttl       time.Duration
	log       *slog.Logger
	clock     func() time.Time
}

func NewGatekeeper(cfg config.LiveKitConfig, log *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		rooms:     lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		ttl:       cfg.CredentialTTL,
		log:       log,
		clock:     time.Now,
	}
}

// NewRoomName builds a deterministic, tenant-scoped room name. Party ids are
// sorted so both directions of the same pair produce the same prefix; the
// timestamp keeps successive calls between the same pair distinct.
func NewRoomName(tenantID, partyA, partyB string, at time.Time) string {
	a, b := partyA, partyB
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s-call-%s-%s-%d", tenantID, a, b, at.UnixMilli())
}

func (g *Gatekeeper) NewRoomName(tenantID, partyA, partyB string) string {
	return NewRoomName(tenantID, partyA, partyB, g.clock())
}

// EnsureRoom creates the room if it does not exist yet. Creating a room that
// already exists is not an error.
func (g *Gatekeeper) EnsureRoom(ctx context.Context, tenantID, roomName string) error {
	_, err := g.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            roomName,
		EmptyTimeout:    roomEmptyTimeoutSec,
		MaxParticipants: roomMaxParticipants,
		Metadata:        fmt.Sprintf(`{"tenant_id":%q}`, tenantID),
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("media: create room %s: %w", roomName, err)
	}
	g.log.Info("room created", "room", roomName, "tenant_id", tenantID)
	return nil
}

// RemoveRoom tears the room down. Callers treat failures as best-effort; a
// room that outlives the call expires on its empty timeout anyway.
func (g *Gatekeeper) RemoveRoom(ctx context.Context, roomName string) error {
	if _, err := g.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName}); err != nil {
		return fmt.Errorf("media: delete room %s: %w", roomName, err)
	}
	return nil
}

// Participants lists the identities currently joined to a room.
func (g *Gatekeeper) Participants(ctx context.Context, roomName string) ([]string, error) {
	resp, err := g.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: roomName})
	if err != nil {
		return nil, fmt.Errorf("media: list participants %s: %w", roomName, err)
	}
	ids := make([]string, 0, len(resp.Participants))
	for _, p := range resp.Participants {
		ids = append(ids, p.Identity)
	}
	sort.Strings(ids)
	return ids, nil
}

// MintJoinCredential issues a join token bound to exactly one room. The
// identity carries the tenant so the media layer stays tenant-isolated even
// if two tenants reuse a party id.
func (g *Gatekeeper) MintJoinCredential(tenantID, partyID, displayName, roomName string) (string, error) {
	yes := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &yes,
		CanSubscribe:   &yes,
		CanPublishData: &yes,
	}
	at := auth.NewAccessToken(g.apiKey, g.apiSecret).
		SetVideoGrant(grant).
		SetIdentity(Identity(tenantID, partyID)).
		SetName(displayName).
		SetValidFor(g.ttl)
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("media: mint join credential: %w", err)
	}
	return token, nil
}

// Identity is the media-layer participant identity for a party.
func Identity(tenantID, partyID string) string {
	return tenantID + ":" + partyID
}
