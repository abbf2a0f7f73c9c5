package notify

import (
	"errors"
	"strconv"
	"time"
)

const (
	TypeIncomingCall = "incoming_call"
	TypeMissedCall   = "missed_call"
	TypeCallEnded    = "call_ended"
)

// ErrTargetGone reports that the provider no longer recognizes the target's
// credential. The fan-out flags such targets stale instead of retrying them.
var ErrTargetGone = errors.New("notify: target no longer registered")

// Notification is the channel-independent call event payload.
type Notification struct {
	Type       string `json:"type"`
	AttemptID  string `json:"call_log_id,omitempty"`
	CallerID   string `json:"caller_id,omitempty"`
	CallerName string `json:"caller_name"`
	RoomName   string `json:"room_name,omitempty"`
	CallTime   string `json:"call_time,omitempty"`
}

// dataMap flattens the notification for providers that only carry
// string-to-string data.
func (n Notification) dataMap() map[string]string {
	data := map[string]string{
		"type":       n.Type,
		"callerName": n.CallerName,
		"timestamp":  strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if n.AttemptID != "" {
		data["callLogId"] = n.AttemptID
	}
	if n.CallerID != "" {
		data["callerId"] = n.CallerID
	}
	if n.RoomName != "" {
		data["roomName"] = n.RoomName
	}
	if n.CallTime != "" {
		data["callTime"] = n.CallTime
	}
	return data
}
