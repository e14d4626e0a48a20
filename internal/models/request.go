package models

import (
	"time"

	"github.com/google/uuid"
)

type SignatureRequest struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DocumentID     uuid.UUID  `json:"document_id" db:"document_id"`
	RequesterID    uuid.UUID  `json:"requester_id" db:"requester_id"`
	SignerID       *uuid.UUID `json:"signer_id,omitempty" db:"signer_id"`
	RecipientEmail string     `json:"recipient_email" db:"recipient_email"`
	Note           string     `json:"note,omitempty" db:"note"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	ReqStatusPending   = "pending"
	ReqStatusApproved  = "approved"
	ReqStatusRejected  = "rejected"
	ReqStatusCompleted = "completed"
)

// ValidRequestStatus reports whether s names a request status.
func ValidRequestStatus(s string) bool {
	switch s {
	case ReqStatusPending, ReqStatusApproved, ReqStatusRejected, ReqStatusCompleted:
		return true
	}
	return false
}

// IsSigner reports whether the user is the resolved signer of the request.
func (r *SignatureRequest) IsSigner(userID uuid.UUID) bool {
	return r.SignerID != nil && *r.SignerID == userID
}
