package storage

import "time"

// ReminderEvent is one audit entry produced by a reminder scheduler pass:
// either a reminder that was delivered ("sent") or an item that was passed
// over ("skipped") with the reason.
type ReminderEvent struct {
	ID        string    `json:"id"`
	ContentID string    `json:"content_id"`
	ClientID  string    `json:"client_id,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Outcome   string    `json:"outcome"` // "sent" or "skipped"
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is a queued unit of background work, currently only content
// generation for a single client.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
