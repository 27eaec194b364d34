package domain

import (
	"encoding/json"
	"time"
)

// Event is one MFA state change published to OTel logs, metrics and the Kafka stream.
// DeviceID is the public device UUID, never the internal row id.
type Event struct {
	Type        string            `json:"event_type"`
	UserID      string            `json:"user_id,omitempty"`
	DeviceID    string            `json:"device_id,omitempty"`
	ChallengeID int64             `json:"challenge_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Source      string            `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Resource names the record the event is about, in the form used by audit logs.
func (e *Event) Resource() string {
	switch {
	case e == nil:
		return ""
	case e.ChallengeID != 0:
		return "mfa_challenge"
	case e.DeviceID != "":
		return "mfa_device"
	default:
		return "mfa"
	}
}

// MetadataJSON returns the event details as a JSON object for audit storage; empty when there are none.
func (e *Event) MetadataJSON() string {
	if e == nil {
		return ""
	}
	m := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		m[k] = v
	}
	if e.DeviceID != "" {
		m["device_id"] = e.DeviceID
	}
	if e.ChallengeID != 0 {
		m["challenge_id"] = e.ChallengeID
	}
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
