package hub

import (
	"time"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// helloEnvelope is sent once per subscriber immediately after accept.
type helloEnvelope struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	PrivacyMode string    `json:"privacy_mode"`
}

// historyEnvelope carries the most recent HistoryCap events in id order.
type historyEnvelope struct {
	Type   string                       `json:"type"`
	Events []session.TranscriptionEvent `json:"events"`
}

// eventEnvelope carries one TranscriptionEvent with its fields inlined
// alongside "type", per spec.md §6's
// {"type":"event", ...TranscriptionEvent fields inline} schema.
type eventEnvelope struct {
	Type string `json:"type"`
	session.TranscriptionEvent
}

// statusEnvelope reports hub-level status, reserved for future use (e.g.
// degraded-mode notices); not emitted by the current Hub implementation.
type statusEnvelope struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// byeEnvelope is sent to every subscriber before the hub closes its
// connection on shutdown.
type byeEnvelope struct {
	Type string `json:"type"`
}
