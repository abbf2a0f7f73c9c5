package realtime

// Event names on the live channel. These are part of the client contract;
// keep them stable.
const (
	EventIncomingCall   = "incomingCall"
	EventCallAccepted   = "callAccepted"
	EventCallRejected   = "callRejected"
	EventCallEnded      = "callEnded"
	EventMissedCall     = "missedCall"
	EventPresenceUpdate = "presenceUpdate"
)

// Inbound message names.
const (
	MessageHeartbeat = "heartbeat"
)

// Envelope is the wire shape of every live-channel message, both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}
