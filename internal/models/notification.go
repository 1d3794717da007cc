package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTypeConnection          NotificationType = "connection"
	NotificationTypeConnectionAccepted  NotificationType = "connection_accepted"
	NotificationTypeMentorshipRequested NotificationType = "mentorship_requested"
	NotificationTypeMentorshipAccepted  NotificationType = "mentorship_accepted"
	NotificationTypeMentorshipRejected  NotificationType = "mentorship_rejected"
	NotificationTypeMentorshipCompleted NotificationType = "mentorship_completed"
	NotificationTypeMentorshipExpired   NotificationType = "mentorship_expired"
)

// Notification presence never implies actionability: RelatedID points at a
// domain row whose current state must be re-checked before rendering any
// accept/decline controls.
type Notification struct {
	ID          uuid.UUID        `json:"id"`
	UserID      uuid.UUID        `json:"user_id"`
	Type        NotificationType `json:"type"`
	ActorUserID *uuid.UUID       `json:"actor_user_id,omitempty"`
	ActorName   *string          `json:"actor_name,omitempty"`
	RelatedID   *uuid.UUID       `json:"related_id,omitempty"`
	ReadAt      *time.Time       `json:"read_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`

	// Actionable is computed per viewer at read time, never stored.
	Actionable bool `json:"actionable"`
}
