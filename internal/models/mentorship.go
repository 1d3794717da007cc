package models

import (
	"time"

	"github.com/google/uuid"
)

type MentorshipStatus string

const (
	MentorshipStatusPending   MentorshipStatus = "pending"
	MentorshipStatusAccepted  MentorshipStatus = "accepted"
	MentorshipStatusRejected  MentorshipStatus = "rejected"
	MentorshipStatusCompleted MentorshipStatus = "completed"
	MentorshipStatusCancelled MentorshipStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s MentorshipStatus) Terminal() bool {
	switch s {
	case MentorshipStatusRejected, MentorshipStatusCompleted, MentorshipStatusCancelled:
		return true
	}
	return false
}

// Active reports whether s counts against the one-active-request-per-pair
// rule.
func (s MentorshipStatus) Active() bool {
	return s == MentorshipStatusPending || s == MentorshipStatusAccepted
}

// MentorshipRequest rows are never hard-deleted; terminal states are kept for
// history. SuggestedMentorID is set only on rejection and must differ from
// MentorID. MenteeFeedback is write-once after completion.
type MentorshipRequest struct {
	ID                uuid.UUID        `json:"id"`
	MenteeID          uuid.UUID        `json:"mentee_id"`
	MentorID          uuid.UUID        `json:"mentor_id"`
	Topic             string           `json:"topic"`
	Message           string           `json:"message"`
	Status            MentorshipStatus `json:"status"`
	SuggestedMentorID *uuid.UUID       `json:"suggested_mentor_id,omitempty"`
	MenteeFeedback    *bool            `json:"mentee_feedback,omitempty"`
	AutoExpired       bool             `json:"auto_expired"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// MentorshipWithUsers decorates a request with display names for list views.
type MentorshipWithUsers struct {
	MentorshipRequest
	MenteeName string `json:"mentee_name"`
	MentorName string `json:"mentor_name"`

	// SuggestedMentorAvailable is resolved at read time against the
	// directory; when false the client must not offer the one-click
	// follow-up request.
	SuggestedMentorAvailable bool `json:"suggested_mentor_available"`
}

type CreateMentorshipParams struct {
	MenteeID uuid.UUID
	MentorID uuid.UUID
	Topic    string
	Message  string
}
