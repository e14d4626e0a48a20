package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	StatusRegis  string    `json:"status_regis" db:"status_regis"`
	RegisterDate time.Time `json:"register_date" db:"register_date"`
}

const (
	RoleUser         = "user"
	RoleAdmin        = "admin"
	RoleAdminRequest = "admin_request"

	RegisPending  = "pending"
	RegisApproved = "approved"
	RegisRejected = "rejected"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// UserSummary is the public projection of a user shown to other users.
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}
