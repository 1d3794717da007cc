package models

import (
	"time"

	"github.com/google/uuid"
)

// MentorOffer is a mentor's published availability record. CurrentMentees is
// only ever adjusted as a side effect of mentorship request transitions.
type MentorOffer struct {
	MentorID        uuid.UUID `json:"mentor_id"`
	HelpType        string    `json:"help_type"`
	CommitmentLevel string    `json:"commitment_level"`
	SessionMinutes  int       `json:"session_minutes"`
	Channels        []string  `json:"channels"`
	Availability    string    `json:"availability"`
	AvailableSlots  int       `json:"available_slots"`
	CurrentMentees  int       `json:"current_mentees"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RemainingSlots is the gating value for new requests.
func (o MentorOffer) RemainingSlots() int {
	remaining := o.AvailableSlots - o.CurrentMentees
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MentorListing joins an offer with the mentor's public profile fields for
// the directory read model.
type MentorListing struct {
	MentorOffer
	DisplayName    string `json:"display_name"`
	Domain         string `json:"domain"`
	RemainingSlots int    `json:"remaining_slots"`
}

type UpsertOfferParams struct {
	MentorID        uuid.UUID
	HelpType        string
	CommitmentLevel string
	SessionMinutes  int
	Channels        []string
	Availability    string
	AvailableSlots  int
}
