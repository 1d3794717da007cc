package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/models"
)

// UserServiceInterface defines the contract for user operations.
type UserServiceInterface interface {
	Create(ctx context.Context, params models.CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
}

// AuthServiceInterface defines the contract for authentication operations.
type AuthServiceInterface interface {
	HashPassword(password string) (string, error)
	VerifyPassword(hash, password string) bool
	CreateSession(ctx context.Context, userID uuid.UUID) (token string, err error)
	ValidateSession(ctx context.Context, token string) (*models.User, error)
	DeleteSession(ctx context.Context, token string) error
}

// VerificationServiceInterface defines the contract for email verification.
type VerificationServiceInterface interface {
	SendVerificationEmail(ctx context.Context, userID uuid.UUID, email string) error
	VerifyEmail(ctx context.Context, token string) error
}

// MentorshipServiceInterface defines the contract for the request lifecycle.
type MentorshipServiceInterface interface {
	Create(ctx context.Context, params models.CreateMentorshipParams) (*models.MentorshipRequest, error)
	Accept(ctx context.Context, mentorID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	Reject(ctx context.Context, mentorID, requestID uuid.UUID, suggestedMentorID *uuid.UUID) (*models.MentorshipRequest, error)
	CancelPending(ctx context.Context, actorID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	CancelAccepted(ctx context.Context, menteeID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	Complete(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error)
	SubmitFeedback(ctx context.Context, menteeID, requestID uuid.UUID, helpful bool) (*models.MentorshipRequest, error)
	Get(ctx context.Context, viewerID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	GetByID(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.MentorshipWithUsers, error)
	AutoExpireSweep(ctx context.Context, now time.Time) (int, error)
}

// DirectoryServiceInterface defines the contract for the mentor directory
// read model.
type DirectoryServiceInterface interface {
	ListMentors(ctx context.Context, domain string) ([]models.MentorListing, error)
	LookupMentor(ctx context.Context, mentorID uuid.UUID) (*models.MentorListing, error)
	UpsertOffer(ctx context.Context, params models.UpsertOfferParams) (*models.MentorOffer, error)
	WithdrawOffer(ctx context.Context, mentorID uuid.UUID) error
}

// ConnectionServiceInterface defines the contract for connection requests.
type ConnectionServiceInterface interface {
	Send(ctx context.Context, requesterID, receiverID uuid.UUID) (*models.Connection, error)
	Accept(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error)
	Decline(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error)
	Withdraw(ctx context.Context, userID, connectionID uuid.UUID) error
	GetByID(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error)
	List(ctx context.Context, userID uuid.UUID, status models.ConnectionStatus) ([]models.ConnectionWithUser, error)
}

// NotificationServiceInterface defines the read-side contract for
// notifications.
type NotificationServiceInterface interface {
	List(ctx context.Context, userID uuid.UUID, params NotificationListParams) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
}
