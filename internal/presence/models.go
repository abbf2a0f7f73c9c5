package presence

import "time"

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusBusy    Status = "BUSY"
	StatusAway    Status = "AWAY"
	StatusOffline Status = "OFFLINE"
)

// Presence is the live reachability record of one party. A party has exactly
// one record per filing tenant; records are continuously upserted and have
// no terminal state.
//
// Invariant: Status is BUSY only while CurrentRoom references an active call
// attempt. The call coordinator owns that bookkeeping.
type Presence struct {
	PartyID  string `json:"party_id"`
	TenantID string `json:"tenant_id"`

	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`

	// CurrentRoom is set only while Status is BUSY.
	CurrentRoom string `json:"current_room,omitempty"`
}
