package model

import "time"

// EventRecord is one line of a user's append-only audit log.
type EventRecord struct {
	RecordID   string            `json:"recordId"`
	UserID     string            `json:"userId"`
	EventID    string            `json:"eventId"`
	ModuleID   string            `json:"moduleId"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Accepted   bool              `json:"accepted"`
	Duplicate  bool              `json:"duplicate,omitempty"`
	Event      ContributionEvent `json:"event"`
	Rejection  []string          `json:"rejection,omitempty"`
}
