package models

import "time"

// OperationKind is the write a pending operation replays.
type OperationKind string

const (
	OpCreate  OperationKind = "create"
	OpReplace OperationKind = "replace"
	OpDelete  OperationKind = "delete"
)

// OperationState tracks a queued write.
type OperationState string

const (
	StatePending OperationState = "pending"
	StateFailed  OperationState = "failed"
)

// Operation is a local write waiting to be pushed to the server. Version is
// the server version the write was based on; it becomes the If-Match header.
type Operation struct {
	ID         int64          `db:"id"`
	Table      string         `db:"table_name"`
	ItemID     string         `db:"item_id"`
	Kind       OperationKind  `db:"kind"`
	Item       *Record        `db:"item"`
	Version    Version        `db:"version"`
	State      OperationState `db:"state"`
	Attempts   int            `db:"attempts"`
	LastError  string         `db:"last_error"`
	ServerItem *Record        `db:"server_item"` // set when a conflict was abandoned
	CreatedAt  time.Time      `db:"created_at"`
}

// Collapse merges a new write into an existing pending operation for the same
// item. It returns the merged operation, or nil when the two cancel out.
func Collapse(prev, next Operation) *Operation {
	switch prev.Kind {
	case OpCreate:
		switch next.Kind {
		case OpDelete:
			return nil
		default:
			prev.Item = next.Item
			return &prev
		}
	case OpReplace:
		next.ID = prev.ID
		next.Version = prev.Version
		next.CreatedAt = prev.CreatedAt
		return &next
	}
	// Re-creating an item whose delete is still queued overwrites it instead.
	if next.Kind == OpCreate {
		next.Kind = OpReplace
	}
	next.ID = prev.ID
	next.Version = prev.Version
	next.CreatedAt = prev.CreatedAt
	return &next
}
