package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/models"
	"github.com/campusloop/campusloop/internal/services"
)

type mockUserService struct {
	createFunc            func(ctx context.Context, params models.CreateUserParams) (*models.User, error)
	getByIDFunc           func(ctx context.Context, id uuid.UUID) (*models.User, error)
	getByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	markEmailVerifiedFunc func(ctx context.Context, userID uuid.UUID) error
}

func (m *mockUserService) Create(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
	return m.createFunc(ctx, params)
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockUserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.getByEmailFunc(ctx, email)
}

func (m *mockUserService) MarkEmailVerified(ctx context.Context, userID uuid.UUID) error {
	return m.markEmailVerifiedFunc(ctx, userID)
}

type mockAuthService struct {
	hashPasswordFunc    func(password string) (string, error)
	verifyPasswordFunc  func(hash, password string) bool
	createSessionFunc   func(ctx context.Context, userID uuid.UUID) (string, error)
	validateSessionFunc func(ctx context.Context, token string) (*models.User, error)
	deleteSessionFunc   func(ctx context.Context, token string) error
}

func (m *mockAuthService) HashPassword(password string) (string, error) {
	if m.hashPasswordFunc != nil {
		return m.hashPasswordFunc(password)
	}
	return "hashed:" + password, nil
}

func (m *mockAuthService) VerifyPassword(hash, password string) bool {
	if m.verifyPasswordFunc != nil {
		return m.verifyPasswordFunc(hash, password)
	}
	return hash == "hashed:"+password
}

func (m *mockAuthService) CreateSession(ctx context.Context, userID uuid.UUID) (string, error) {
	if m.createSessionFunc != nil {
		return m.createSessionFunc(ctx, userID)
	}
	return "test-session-token", nil
}

func (m *mockAuthService) ValidateSession(ctx context.Context, token string) (*models.User, error) {
	return m.validateSessionFunc(ctx, token)
}

func (m *mockAuthService) DeleteSession(ctx context.Context, token string) error {
	if m.deleteSessionFunc != nil {
		return m.deleteSessionFunc(ctx, token)
	}
	return nil
}

type mockVerificationService struct {
	sendVerificationFunc func(ctx context.Context, userID uuid.UUID, email string) error
	verifyEmailFunc      func(ctx context.Context, token string) error
}

func (m *mockVerificationService) SendVerificationEmail(ctx context.Context, userID uuid.UUID, email string) error {
	if m.sendVerificationFunc != nil {
		return m.sendVerificationFunc(ctx, userID, email)
	}
	return nil
}

func (m *mockVerificationService) VerifyEmail(ctx context.Context, token string) error {
	return m.verifyEmailFunc(ctx, token)
}

type mockMentorshipService struct {
	createFunc         func(ctx context.Context, params models.CreateMentorshipParams) (*models.MentorshipRequest, error)
	acceptFunc         func(ctx context.Context, mentorID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	rejectFunc         func(ctx context.Context, mentorID, requestID uuid.UUID, suggestedMentorID *uuid.UUID) (*models.MentorshipRequest, error)
	cancelPendingFunc  func(ctx context.Context, actorID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	cancelAcceptedFunc func(ctx context.Context, menteeID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	completeFunc       func(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error)
	submitFeedbackFunc func(ctx context.Context, menteeID, requestID uuid.UUID, helpful bool) (*models.MentorshipRequest, error)
	getFunc            func(ctx context.Context, viewerID, requestID uuid.UUID) (*models.MentorshipRequest, error)
	getByIDFunc        func(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error)
	listForUserFunc    func(ctx context.Context, userID uuid.UUID) ([]models.MentorshipWithUsers, error)
	autoExpireFunc     func(ctx context.Context, now time.Time) (int, error)
}

func (m *mockMentorshipService) Create(ctx context.Context, params models.CreateMentorshipParams) (*models.MentorshipRequest, error) {
	return m.createFunc(ctx, params)
}

func (m *mockMentorshipService) Accept(ctx context.Context, mentorID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return m.acceptFunc(ctx, mentorID, requestID)
}

func (m *mockMentorshipService) Reject(ctx context.Context, mentorID, requestID uuid.UUID, suggestedMentorID *uuid.UUID) (*models.MentorshipRequest, error) {
	return m.rejectFunc(ctx, mentorID, requestID, suggestedMentorID)
}

func (m *mockMentorshipService) CancelPending(ctx context.Context, actorID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return m.cancelPendingFunc(ctx, actorID, requestID)
}

func (m *mockMentorshipService) CancelAccepted(ctx context.Context, menteeID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return m.cancelAcceptedFunc(ctx, menteeID, requestID)
}

func (m *mockMentorshipService) Complete(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return m.completeFunc(ctx, requestID)
}

func (m *mockMentorshipService) SubmitFeedback(ctx context.Context, menteeID, requestID uuid.UUID, helpful bool) (*models.MentorshipRequest, error) {
	return m.submitFeedbackFunc(ctx, menteeID, requestID, helpful)
}

func (m *mockMentorshipService) Get(ctx context.Context, viewerID, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return m.getFunc(ctx, viewerID, requestID)
}

func (m *mockMentorshipService) GetByID(ctx context.Context, requestID uuid.UUID) (*models.MentorshipRequest, error) {
	return m.getByIDFunc(ctx, requestID)
}

func (m *mockMentorshipService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.MentorshipWithUsers, error) {
	return m.listForUserFunc(ctx, userID)
}

func (m *mockMentorshipService) AutoExpireSweep(ctx context.Context, now time.Time) (int, error) {
	return m.autoExpireFunc(ctx, now)
}

type mockDirectoryService struct {
	listMentorsFunc   func(ctx context.Context, domain string) ([]models.MentorListing, error)
	lookupMentorFunc  func(ctx context.Context, mentorID uuid.UUID) (*models.MentorListing, error)
	upsertOfferFunc   func(ctx context.Context, params models.UpsertOfferParams) (*models.MentorOffer, error)
	withdrawOfferFunc func(ctx context.Context, mentorID uuid.UUID) error
}

func (m *mockDirectoryService) ListMentors(ctx context.Context, domain string) ([]models.MentorListing, error) {
	return m.listMentorsFunc(ctx, domain)
}

func (m *mockDirectoryService) LookupMentor(ctx context.Context, mentorID uuid.UUID) (*models.MentorListing, error) {
	return m.lookupMentorFunc(ctx, mentorID)
}

func (m *mockDirectoryService) UpsertOffer(ctx context.Context, params models.UpsertOfferParams) (*models.MentorOffer, error) {
	return m.upsertOfferFunc(ctx, params)
}

func (m *mockDirectoryService) WithdrawOffer(ctx context.Context, mentorID uuid.UUID) error {
	return m.withdrawOfferFunc(ctx, mentorID)
}

type mockConnectionService struct {
	sendFunc     func(ctx context.Context, requesterID, receiverID uuid.UUID) (*models.Connection, error)
	acceptFunc   func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error)
	declineFunc  func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error)
	withdrawFunc func(ctx context.Context, userID, connectionID uuid.UUID) error
	getByIDFunc  func(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error)
	listFunc     func(ctx context.Context, userID uuid.UUID, status models.ConnectionStatus) ([]models.ConnectionWithUser, error)
}

func (m *mockConnectionService) Send(ctx context.Context, requesterID, receiverID uuid.UUID) (*models.Connection, error) {
	return m.sendFunc(ctx, requesterID, receiverID)
}

func (m *mockConnectionService) Accept(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
	return m.acceptFunc(ctx, userID, connectionID)
}

func (m *mockConnectionService) Decline(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
	return m.declineFunc(ctx, userID, connectionID)
}

func (m *mockConnectionService) Withdraw(ctx context.Context, userID, connectionID uuid.UUID) error {
	return m.withdrawFunc(ctx, userID, connectionID)
}

func (m *mockConnectionService) GetByID(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error) {
	return m.getByIDFunc(ctx, connectionID)
}

func (m *mockConnectionService) List(ctx context.Context, userID uuid.UUID, status models.ConnectionStatus) ([]models.ConnectionWithUser, error) {
	return m.listFunc(ctx, userID, status)
}

type mockNotificationService struct {
	listFunc        func(ctx context.Context, userID uuid.UUID, params services.NotificationListParams) ([]models.Notification, error)
	markReadFunc    func(ctx context.Context, userID, notificationID uuid.UUID) error
	markAllReadFunc func(ctx context.Context, userID uuid.UUID) error
	unreadCountFunc func(ctx context.Context, userID uuid.UUID) (int, error)
}

func (m *mockNotificationService) List(ctx context.Context, userID uuid.UUID, params services.NotificationListParams) ([]models.Notification, error) {
	return m.listFunc(ctx, userID, params)
}

func (m *mockNotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return m.markReadFunc(ctx, userID, notificationID)
}

func (m *mockNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return m.markAllReadFunc(ctx, userID)
}

func (m *mockNotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return m.unreadCountFunc(ctx, userID)
}

func testUser(role models.Role) *models.User {
	now := time.Now()
	return &models.User{
		ID:          uuid.New(),
		Email:       "casey@test.edu",
		DisplayName: "Casey Kim",
		Role:        role,
		Domain:      "engineering",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// authedRequest builds a request carrying the user and their capabilities,
// the way the auth middleware would.
func authedRequest(method, target string, body io.Reader, user *models.User) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		ctx := SetUserInContext(req.Context(), user)
		ctx = SetCapabilitiesInContext(ctx, services.Permissions(user.Role))
		req = req.WithContext(ctx)
	}
	return req
}

func jsonBody(t *testing.T, data any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	return bytes.NewReader(raw)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v (body %q)", err, rr.Body.String())
	}
	return resp.Error
}
