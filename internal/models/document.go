package models

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	FilePath  string    `json:"file_path" db:"file_path"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	DocStatusPending   = "pending"
	DocStatusInSigning = "in_signing"
	DocStatusSigned    = "signed"
	DocStatusCompleted = "completed"
	DocStatusRejected  = "rejected"
)

var docStatusRank = map[string]int{
	DocStatusPending:   0,
	DocStatusInSigning: 1,
	DocStatusSigned:    2,
	DocStatusCompleted: 3,
	DocStatusRejected:  3,
}

// IsTerminalDocStatus reports whether no further status change is allowed.
func IsTerminalDocStatus(status string) bool {
	return status == DocStatusCompleted || status == DocStatusRejected
}

// AdvanceDocStatus returns the status a document should hold after a
// transition to next was requested. A document never moves back to a lower
// ranked status and never leaves a terminal one.
func AdvanceDocStatus(current, next string) string {
	if IsTerminalDocStatus(current) {
		return current
	}
	cur, ok := docStatusRank[current]
	if !ok {
		return next
	}
	nxt, ok := docStatusRank[next]
	if !ok || nxt < cur {
		return current
	}
	return next
}
