package calls

import "time"

// CallAttempt is one tenant-scoped signaling attempt between two parties.
//
// Invariants:
//   - CallerID != CalleeID.
//   - State only moves forward through the transitions in machine.go; a row
//     never regresses to an earlier state.
//   - DurationSeconds is written exactly once, when the attempt becomes ENDED,
//     and is never recomputed.
//   - Terminal rows are never deleted; they are the audit trail.
type CallAttempt struct {
	AttemptID string `json:"attempt_id" db:"attempt_id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`

	CallerID   string `json:"caller_id" db:"caller_id"`
	CalleeID   string `json:"callee_id" db:"callee_id"`
	CallerName string `json:"caller_name,omitempty" db:"caller_name"`
	CalleeName string `json:"callee_name,omitempty" db:"callee_name"`

	RoomName string `json:"room_name" db:"room_name"`

	State     State     `json:"state" db:"state"`
	Direction Direction `json:"direction" db:"direction"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is set only for ENDED attempts.
	DurationSeconds *int `json:"duration_seconds,omitempty" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type State string

const (
	StateInitiated State = "INITIATED"
	StateConnected State = "CONNECTED"
	StateRejected  State = "REJECTED"
	StateFailed    State = "FAILED"
	StateMissed    State = "MISSED"
	StateEnded     State = "ENDED"
)

// Terminal reports whether no further transition is possible from s.
// ENDED is reachable only from CONNECTED; the other outcomes are terminal
// because no media session was ever joined by both sides.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateFailed, StateMissed, StateEnded:
		return true
	default:
		return false
	}
}

type Direction string

const (
	// DirectionInternal is staff calling staff within one tenant.
	DirectionInternal Direction = "internal"
	// DirectionPortalInbound is a portal customer calling into the CRM
	// tenant that owns their contact record.
	DirectionPortalInbound Direction = "portal_inbound"
)

// Party is a resolved caller or callee identity, read from the external
// user-profile collaborator.
type Party struct {
	ID          string
	TenantID    string
	DisplayName string

	// PortalCustomer marks identities reached through the contact-to-tenant
	// mapping rather than direct tenant membership.
	PortalCustomer bool
}
