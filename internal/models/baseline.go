package models

import (
	"time"

	"github.com/google/uuid"
)

// SignatureBaseline is an enrolled reference signature for a user.
// FeatureVector is nil until an embedding has been extracted.
type SignatureBaseline struct {
	ID            uuid.UUID `json:"id" db:"id"`
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	SignImage     string    `json:"sign_image" db:"sign_image"`
	FeatureVector []float32 `json:"-" db:"feature_vector"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

func (b *SignatureBaseline) HasVector() bool { return len(b.FeatureVector) > 0 }

const MaxBaselinesPerUser = 5
