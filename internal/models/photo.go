package models

import "time"

// PhotoRef points at a stored product photo. Immutable once created;
// the file itself is owned by the retention job, not the orchestrator.
type PhotoRef struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	MimeType   string    `json:"mime_type"`
	SHA256     string    `json:"sha256"`
	Path       string    `json:"path"`
	ReceivedAt time.Time `json:"received_at"`
}
