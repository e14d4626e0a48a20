package models

import (
	"time"

	"github.com/google/uuid"
)

// LogVerification is an append-only record of one verification attempt.
type LogVerification struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	DocumentID         uuid.UUID `json:"document_id" db:"document_id"`
	UserID             uuid.UUID `json:"user_id" db:"user_id"`
	VerificationResult string    `json:"verification_result" db:"verification_result"`
	SimilarityScore    *float64  `json:"similarity_score,omitempty" db:"similarity_score"`
	Timestamp          time.Time `json:"timestamp" db:"timestamp"`
}

const (
	VerificationValid   = "valid"
	VerificationInvalid = "invalid"
)

// LogVerificationView joins a log row with its user and document.
type LogVerificationView struct {
	LogVerification
	User     UserSummary     `json:"user"`
	Document DocumentSummary `json:"document"`
}

type DocumentSummary struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	FilePath string    `json:"file_path"`
}
