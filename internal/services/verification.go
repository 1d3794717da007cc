package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/logging"
)

const VerificationTokenExpiry = 24 * time.Hour

var (
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	ErrVerificationTokenExpired = errors.New("verification token has expired")
)

// EmailVerifier marks a user's address as verified.
type EmailVerifier interface {
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
}

// VerificationService issues and redeems email verification tokens. Tokens
// are stored hashed; only the link in the email carries the plaintext.
type VerificationService struct {
	db      DB
	users   EmailVerifier
	email   NotificationEmailSender
	baseURL string
}

func NewVerificationService(db DB, users EmailVerifier, email NotificationEmailSender, baseURL string) *VerificationService {
	return &VerificationService{
		db:      db,
		users:   users,
		email:   email,
		baseURL: baseURL,
	}
}

// GenerateVerificationToken returns the plaintext token mailed to the user
// and the hash stored in the database.
func GenerateVerificationToken() (token string, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}
	token = hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:]), nil
}

func hashVerificationToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SendVerificationEmail stores a fresh token and mails its link.
func (s *VerificationService) SendVerificationEmail(ctx context.Context, userID uuid.UUID, email string) error {
	token, tokenHash, err := GenerateVerificationToken()
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		"INSERT INTO email_verification_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)",
		tokenHash, userID, time.Now().Add(VerificationTokenExpiry),
	)
	if err != nil {
		return fmt.Errorf("storing verification token: %w", err)
	}

	verifyURL := fmt.Sprintf("%s/#verify-email?token=%s", s.baseURL, token)
	html := fmt.Sprintf(
		`<p>Welcome to CampusLoop. Confirm your email address to receive mentorship and connection updates.</p><p><a href="%s">Verify email</a></p><p>This link expires in 24 hours.</p>`,
		verifyURL,
	)
	text := fmt.Sprintf(
		"Welcome to CampusLoop. Confirm your email address to receive mentorship and connection updates.\n\nVerify email: %s\n\nThis link expires in 24 hours.",
		verifyURL,
	)

	return s.email.SendNotificationEmail(ctx, email, "Verify your CampusLoop email", html, text)
}

// VerifyEmail redeems a token, marks the user verified and burns every
// outstanding token for that user.
func (s *VerificationService) VerifyEmail(ctx context.Context, token string) error {
	tokenHash := hashVerificationToken(token)

	var userID uuid.UUID
	var expiresAt time.Time
	err := s.db.QueryRow(ctx,
		"SELECT user_id, expires_at FROM email_verification_tokens WHERE token_hash = $1",
		tokenHash,
	).Scan(&userID, &expiresAt)
	if err != nil {
		return ErrInvalidVerificationToken
	}

	if time.Now().After(expiresAt) {
		return ErrVerificationTokenExpired
	}

	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("marking email verified: %w", err)
	}

	if _, err := s.db.Exec(ctx,
		"DELETE FROM email_verification_tokens WHERE user_id = $1",
		userID,
	); err != nil {
		logging.Error("Failed to delete verification tokens", map[string]interface{}{
			"error":   err.Error(),
			"user_id": userID.String(),
		})
	}

	return nil
}
