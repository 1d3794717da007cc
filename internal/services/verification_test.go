package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeVerifier struct {
	verified []uuid.UUID
	err      error
}

func (f *fakeVerifier) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.verified = append(f.verified, userID)
	return nil
}

func TestGenerateVerificationToken(t *testing.T) {
	token, hash, err := GenerateVerificationToken()
	if err != nil {
		t.Fatalf("GenerateVerificationToken: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(token))
	}
	if hash == token {
		t.Error("stored hash must differ from the plaintext token")
	}
	if hashVerificationToken(token) != hash {
		t.Error("hash must be reproducible from the token")
	}
}

func TestSendVerificationEmail(t *testing.T) {
	db := &fakeDB{}
	email := &fakeEmailSender{}
	userID := uuid.New()
	svc := NewVerificationService(db, &fakeVerifier{}, email, "https://campusloop.app")

	if err := svc.SendVerificationEmail(context.Background(), userID, "casey@test.edu"); err != nil {
		t.Fatalf("SendVerificationEmail: %v", err)
	}

	if len(db.queries) != 1 || !strings.Contains(db.queries[0], "INSERT INTO email_verification_tokens") {
		t.Fatalf("expected token insert, got %v", db.queries)
	}
	storedHash, ok := db.args[0][0].(string)
	if !ok || len(storedHash) != 64 {
		t.Errorf("expected hashed token in storage, got %v", db.args[0][0])
	}
	if db.args[0][1] != userID {
		t.Errorf("expected token bound to user, got %v", db.args[0][1])
	}

	if len(email.sent) != 1 || email.sent[0].to != "casey@test.edu" {
		t.Fatalf("expected verification email, got %+v", email.sent)
	}
}

func TestVerifyEmail_Success(t *testing.T) {
	userID := uuid.New()
	db := &fakeDB{rowQueue: []Row{
		rowFromValues(userID, time.Now().Add(time.Hour)),
	}}
	verifier := &fakeVerifier{}
	svc := NewVerificationService(db, verifier, &fakeEmailSender{}, "https://campusloop.app")

	if err := svc.VerifyEmail(context.Background(), "sometoken"); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if len(verifier.verified) != 1 || verifier.verified[0] != userID {
		t.Errorf("expected user marked verified, got %v", verifier.verified)
	}
	if len(db.queries) == 0 || !strings.Contains(db.queries[len(db.queries)-1], "DELETE FROM email_verification_tokens") {
		t.Errorf("expected outstanding tokens burned, got %v", db.queries)
	}
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	db := &fakeDB{}
	svc := NewVerificationService(db, &fakeVerifier{}, &fakeEmailSender{}, "https://campusloop.app")

	err := svc.VerifyEmail(context.Background(), "unknown")
	if !errors.Is(err, ErrInvalidVerificationToken) {
		t.Fatalf("expected ErrInvalidVerificationToken, got %v", err)
	}
}

func TestVerifyEmail_ExpiredToken(t *testing.T) {
	db := &fakeDB{rowQueue: []Row{
		rowFromValues(uuid.New(), time.Now().Add(-time.Minute)),
	}}
	verifier := &fakeVerifier{}
	svc := NewVerificationService(db, verifier, &fakeEmailSender{}, "https://campusloop.app")

	err := svc.VerifyEmail(context.Background(), "stale")
	if !errors.Is(err, ErrVerificationTokenExpired) {
		t.Fatalf("expected ErrVerificationTokenExpired, got %v", err)
	}
	if len(verifier.verified) != 0 {
		t.Error("expired token must not verify the user")
	}
}
