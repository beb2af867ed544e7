package models

import "time"

// ChangeEvent is published after every accepted write so that listening
// clients can start a pull early.
type ChangeEvent struct {
	EventID   string        `json:"event_id"`
	Table     string        `json:"table"`
	ItemID    string        `json:"item_id"`
	Operation OperationKind `json:"operation"`
	Version   Version       `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Deleted   bool          `json:"deleted"`
}
