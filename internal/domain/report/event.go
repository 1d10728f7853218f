package report

import "time"

// Operation is the kind of change a stream event describes
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent is one committed change to the report table. Row is set for
// insert and update; Key is set for every operation.
type ChangeEvent struct {
	ID          string    `json:"id"`
	Op          Operation `json:"op"`
	Key         string    `json:"key"`
	Row         *Report   `json:"row,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}
