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
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusloop/campusloop/internal/models"
)

const (
	bcryptCost       = 12
	sessionDuration  = 30 * 24 * time.Hour
	sessionKeyPrefix = "session:"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
)

// AuthService issues and validates opaque session tokens. Sessions live in
// redis for fast lookups with a postgres fallback when redis is unavailable.
type AuthService struct {
	db    DB
	redis *redis.Client
}

func NewAuthService(db DB, redisClient *redis.Client) *AuthService {
	return &AuthService{db: db, redis: redisClient}
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateSessionToken returns the plaintext token handed to the client and
// the hash that gets stored.
func (s *AuthService) GenerateSessionToken() (token string, hash string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}
	token = hex.EncodeToString(bytes)
	hash = s.hashToken(token)
	return token, hash, nil
}

func (s *AuthService) hashToken(token string) string {
	hashBytes := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hashBytes[:])
}

func (s *AuthService) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	token, tokenHash, err := s.GenerateSessionToken()
	if err != nil {
		return "", err
	}

	redisKey := sessionKeyPrefix + tokenHash
	if err := s.redis.Set(ctx, redisKey, userID.String(), sessionDuration).Err(); err != nil {
		expiresAt := time.Now().Add(sessionDuration)
		if _, dbErr := s.db.Exec(ctx,
			"INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)",
			userID, tokenHash, expiresAt,
		); dbErr != nil {
			return "", fmt.Errorf("creating session in database: %w", dbErr)
		}
	}

	return token, nil
}

func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	tokenHash := s.hashToken(token)

	redisKey := sessionKeyPrefix + tokenHash
	userIDStr, err := s.redis.Get(ctx, redisKey).Result()
	if err == nil {
		s.redis.Expire(ctx, redisKey, sessionDuration)
		userID, parseErr := uuid.Parse(userIDStr)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing user id: %w", parseErr)
		}
		return s.getUserByID(ctx, userID)
	}

	var session models.Session
	err = s.db.QueryRow(ctx,
		"SELECT user_id, token_hash, expires_at FROM sessions WHERE token_hash = $1",
		tokenHash,
	).Scan(&session.UserID, &session.TokenHash, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	return s.getUserByID(ctx, session.UserID)
}

func (s *AuthService) DeleteSession(ctx context.Context, token string) error {
	tokenHash := s.hashToken(token)
	s.redis.Del(ctx, sessionKeyPrefix+tokenHash)
	if _, err := s.db.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *AuthService) getUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, role, domain, email_verified, created_at, updated_at
		 FROM users WHERE id = $1`,
		userID,
	).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&role,
		&user.Domain,
		&user.EmailVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session user: %w", err)
	}
	user.Role = models.Role(role)
	return user, nil
}
