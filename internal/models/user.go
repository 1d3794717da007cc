package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the kind of account. Capability checks go through
// services.Permissions, not direct role comparisons.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAlumni  Role = "alumni"
	RoleClub    Role = "club"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleAlumni, RoleClub:
		return true
	}
	return false
}

type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	DisplayName   string    `json:"display_name"`
	Role          Role      `json:"role"`
	Domain        string    `json:"domain"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CreateUserParams struct {
	Email        string
	PasswordHash string
	DisplayName  string
	Role         Role
	Domain       string
}

type Session struct {
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
}
