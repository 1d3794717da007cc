package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/models"
	"github.com/campusloop/campusloop/internal/services"
)

func newAuthHandler(userService *mockUserService, authService *mockAuthService) *AuthHandler {
	return NewAuthHandler(userService, authService, &mockVerificationService{}, false)
}

func TestRegister_Success(t *testing.T) {
	created := testUser(models.RoleStudent)
	userService := &mockUserService{
		createFunc: func(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
			if params.Email != "casey@test.edu" {
				t.Errorf("expected normalized email, got %q", params.Email)
			}
			if params.PasswordHash == "Str0ngPass" {
				t.Error("password must be hashed before storage")
			}
			return created, nil
		},
	}
	handler := newAuthHandler(userService, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
		Email:       " Casey@Test.EDU ",
		Password:    "Str0ngPass",
		DisplayName: "Casey Kim",
		Role:        "student",
	}))
	rr := httptest.NewRecorder()
	handler.Register(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AuthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.User == nil || resp.User.ID != created.ID {
		t.Errorf("expected created user in response")
	}
	if resp.Capabilities == nil || !resp.Capabilities.CanRequestMentorship {
		t.Errorf("expected student capabilities, got %+v", resp.Capabilities)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "session_token" {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
	if !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteStrictMode {
		t.Error("session cookie must be HttpOnly and SameSite=Strict")
	}
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body RegisterRequest
		want string
	}{
		{
			name: "bad email",
			body: RegisterRequest{Email: "not-an-email", Password: "Str0ngPass", DisplayName: "Casey", Role: "student"},
			want: "Invalid email address",
		},
		{
			name: "short password",
			body: RegisterRequest{Email: "casey@test.edu", Password: "Ab1", DisplayName: "Casey", Role: "student"},
			want: "password must be at least 8 characters",
		},
		{
			name: "weak password",
			body: RegisterRequest{Email: "casey@test.edu", Password: "alllowercase", DisplayName: "Casey", Role: "student"},
			want: "password must contain at least one uppercase letter, one lowercase letter, and one digit",
		},
		{
			name: "short display name",
			body: RegisterRequest{Email: "casey@test.edu", Password: "Str0ngPass", DisplayName: "C", Role: "student"},
			want: "Display name must be between 2 and 100 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, tt.body))
			rr := httptest.NewRecorder()
			handler.Register(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := decodeError(t, rr); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRegister_LongPassword(t *testing.T) {
	handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
		Email:       "casey@test.edu",
		Password:    "Aa1" + strings.Repeat("x", 80),
		DisplayName: "Casey Kim",
		Role:        "student",
	}))
	rr := httptest.NewRecorder()
	handler.Register(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-long password, got %d", rr.Code)
	}
}

func TestRegister_InvalidRole(t *testing.T) {
	userService := &mockUserService{
		createFunc: func(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
			return nil, services.ErrInvalidRole
		},
	}
	handler := newAuthHandler(userService, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
		Email: "casey@test.edu", Password: "Str0ngPass", DisplayName: "Casey Kim", Role: "superuser",
	}))
	rr := httptest.NewRecorder()
	handler.Register(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRegister_EmailTaken(t *testing.T) {
	userService := &mockUserService{
		createFunc: func(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
			return nil, services.ErrEmailTaken
		},
	}
	handler := newAuthHandler(userService, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
		Email: "casey@test.edu", Password: "Str0ngPass", DisplayName: "Casey Kim", Role: "student",
	}))
	rr := httptest.NewRecorder()
	handler.Register(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestLogin_Success(t *testing.T) {
	user := testUser(models.RoleFaculty)
	user.PasswordHash = "hashed:Str0ngPass"
	userService := &mockUserService{
		getByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	handler := newAuthHandler(userService, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, LoginRequest{
		Email: "casey@test.edu", Password: "Str0ngPass",
	}))
	rr := httptest.NewRecorder()
	handler.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp AuthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Capabilities == nil || !resp.Capabilities.CanModerate {
		t.Errorf("expected faculty capabilities, got %+v", resp.Capabilities)
	}
}

func TestLogin_UnknownEmailAndBadPasswordLookTheSame(t *testing.T) {
	unknownService := &mockUserService{
		getByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return nil, services.ErrUserNotFound
		},
	}
	user := testUser(models.RoleStudent)
	user.PasswordHash = "hashed:RightPass1"
	knownService := &mockUserService{
		getByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}

	var bodies []string
	for _, svc := range []*mockUserService{unknownService, knownService} {
		handler := newAuthHandler(svc, &mockAuthService{})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, LoginRequest{
			Email: "casey@test.edu", Password: "WrongPass1",
		}))
		rr := httptest.NewRecorder()
		handler.Login(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
		bodies = append(bodies, rr.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Errorf("login failures must not reveal whether the account exists: %q vs %q", bodies[0], bodies[1])
	}
}

func TestLogout_DeletesSessionAndClearsCookie(t *testing.T) {
	var deletedToken string
	authService := &mockAuthService{
		deleteSessionFunc: func(ctx context.Context, token string) error {
			deletedToken = token
			return nil
		},
	}
	handler := newAuthHandler(&mockUserService{}, authService)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: "abc123"})
	rr := httptest.NewRecorder()
	handler.Logout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if deletedToken != "abc123" {
		t.Errorf("expected session deleted, got %q", deletedToken)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Errorf("expected cleared cookie, got %+v", cookies)
	}
}

func TestLogout_WithoutCookieStillSucceeds(t *testing.T) {
	handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	rr := httptest.NewRecorder()
	handler.Logout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestMe(t *testing.T) {
	user := testUser(models.RoleAlumni)
	handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

	req := authedRequest(http.MethodGet, "/api/auth/me", nil, user)
	rr := httptest.NewRecorder()
	handler.Me(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp AuthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.User == nil || resp.User.ID != user.ID {
		t.Errorf("expected current user")
	}
	if resp.Capabilities == nil || !resp.Capabilities.CanOfferMentorship || !resp.Capabilities.CanRequestMentorship {
		t.Errorf("expected alumni capabilities, got %+v", resp.Capabilities)
	}
}

func TestMe_Unauthenticated(t *testing.T) {
	handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rr := httptest.NewRecorder()
	handler.Me(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestVerifyEmail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"success", nil, http.StatusOK},
		{"invalid token", services.ErrInvalidVerificationToken, http.StatusBadRequest},
		{"expired token", services.ErrVerificationTokenExpired, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verification := &mockVerificationService{
				verifyEmailFunc: func(ctx context.Context, token string) error {
					if token != "abc123" {
						t.Errorf("expected token from body, got %q", token)
					}
					return tt.err
				},
			}
			handler := NewAuthHandler(&mockUserService{}, &mockAuthService{}, verification, false)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/verify-email",
				strings.NewReader(`{"token":"abc123"}`))
			rr := httptest.NewRecorder()
			handler.VerifyEmail(rr, req)

			if rr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rr.Code)
			}
		})
	}
}

func TestVerifyEmail_MissingToken(t *testing.T) {
	handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify-email", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	handler.VerifyEmail(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestResendVerification(t *testing.T) {
	user := testUser(models.RoleStudent)

	var sentTo string
	verification := &mockVerificationService{
		sendVerificationFunc: func(ctx context.Context, userID uuid.UUID, email string) error {
			if userID != user.ID {
				t.Errorf("expected session user, got %s", userID)
			}
			sentTo = email
			return nil
		},
	}
	handler := NewAuthHandler(&mockUserService{}, &mockAuthService{}, verification, false)

	req := authedRequest(http.MethodPost, "/api/auth/resend-verification", nil, user)
	rr := httptest.NewRecorder()
	handler.ResendVerification(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if sentTo != user.Email {
		t.Errorf("expected email to %q, got %q", user.Email, sentTo)
	}
}

func TestResendVerification_AlreadyVerified(t *testing.T) {
	user := testUser(models.RoleStudent)
	user.EmailVerified = true
	handler := newAuthHandler(&mockUserService{}, &mockAuthService{})

	req := authedRequest(http.MethodPost, "/api/auth/resend-verification", nil, user)
	rr := httptest.NewRecorder()
	handler.ResendVerification(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRegister_ResponseNeverLeaksPasswordHash(t *testing.T) {
	created := testUser(models.RoleStudent)
	created.PasswordHash = "$2a$12$secret"
	userService := &mockUserService{
		createFunc: func(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
			return created, nil
		},
	}
	handler := newAuthHandler(userService, &mockAuthService{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, RegisterRequest{
		Email: "casey@test.edu", Password: "Str0ngPass", DisplayName: "Casey Kim", Role: "student",
	}))
	rr := httptest.NewRecorder()
	handler.Register(rr, req)

	if strings.Contains(rr.Body.String(), "secret") {
		t.Error("password hash must never appear in responses")
	}
}
