package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/models"
	"github.com/campusloop/campusloop/internal/services"
)

func sampleConnection(requesterID, receiverID uuid.UUID, status models.ConnectionStatus) *models.Connection {
	now := time.Now()
	return &models.Connection{
		ID:          uuid.New(),
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestConnectionSend_Success(t *testing.T) {
	requester := testUser(models.RoleStudent)
	receiverID := uuid.New()
	created := sampleConnection(requester.ID, receiverID, models.ConnectionStatusPending)

	svc := &mockConnectionService{
		sendFunc: func(ctx context.Context, requesterID, gotReceiver uuid.UUID) (*models.Connection, error) {
			if requesterID != requester.ID {
				t.Errorf("requester must come from the session, got %s", requesterID)
			}
			if gotReceiver != receiverID {
				t.Errorf("unexpected receiver %s", gotReceiver)
			}
			return created, nil
		},
	}
	handler := NewConnectionHandler(svc)

	req := authedRequest(http.MethodPost, "/api/connections", jsonBody(t, SendConnectionRequest{
		ReceiverID: receiverID.String(),
	}), requester)
	rr := httptest.NewRecorder()
	handler.Send(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestConnectionSend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"self connection", services.ErrCannotConnectSelf, http.StatusBadRequest},
		{"already connected", services.ErrConnectionExists, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockConnectionService{
				sendFunc: func(ctx context.Context, requesterID, receiverID uuid.UUID) (*models.Connection, error) {
					return nil, tt.err
				},
			}
			handler := NewConnectionHandler(svc)

			req := authedRequest(http.MethodPost, "/api/connections", jsonBody(t, SendConnectionRequest{
				ReceiverID: uuid.New().String(),
			}), testUser(models.RoleStudent))
			rr := httptest.NewRecorder()
			handler.Send(rr, req)

			if rr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rr.Code)
			}
		})
	}
}

func TestConnectionList_DefaultsToAccepted(t *testing.T) {
	var gotStatus models.ConnectionStatus
	svc := &mockConnectionService{
		listFunc: func(ctx context.Context, userID uuid.UUID, status models.ConnectionStatus) ([]models.ConnectionWithUser, error) {
			gotStatus = status
			return []models.ConnectionWithUser{}, nil
		},
	}
	handler := NewConnectionHandler(svc)

	req := authedRequest(http.MethodGet, "/api/connections", nil, testUser(models.RoleStudent))
	rr := httptest.NewRecorder()
	handler.List(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotStatus != models.ConnectionStatusAccepted {
		t.Errorf("expected accepted default, got %q", gotStatus)
	}
	if !strings.Contains(rr.Body.String(), `"connections":[]`) {
		t.Errorf("empty list must serialize as [], got %s", rr.Body.String())
	}
}

func TestConnectionList_InvalidStatus(t *testing.T) {
	handler := NewConnectionHandler(&mockConnectionService{})

	req := authedRequest(http.MethodGet, "/api/connections?status=blocked", nil, testUser(models.RoleStudent))
	rr := httptest.NewRecorder()
	handler.List(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestConnectionAccept_Success(t *testing.T) {
	receiver := testUser(models.RoleAlumni)
	accepted := sampleConnection(uuid.New(), receiver.ID, models.ConnectionStatusAccepted)

	svc := &mockConnectionService{
		acceptFunc: func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
			return accepted, nil
		},
	}
	handler := NewConnectionHandler(svc)

	req := authedRequest(http.MethodPut, "/api/connections/"+accepted.ID.String()+"/accept", nil, receiver)
	req.SetPathValue("id", accepted.ID.String())
	rr := httptest.NewRecorder()
	handler.Accept(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestConnectionAccept_RetryReturnsCurrentRow(t *testing.T) {
	receiver := testUser(models.RoleAlumni)
	accepted := sampleConnection(uuid.New(), receiver.ID, models.ConnectionStatusAccepted)

	svc := &mockConnectionService{
		acceptFunc: func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
			return nil, services.ErrAlreadyApplied
		},
		getByIDFunc: func(ctx context.Context, connectionID uuid.UUID) (*models.Connection, error) {
			return accepted, nil
		},
	}
	handler := NewConnectionHandler(svc)

	req := authedRequest(http.MethodPut, "/api/connections/"+accepted.ID.String()+"/accept", nil, receiver)
	req.SetPathValue("id", accepted.ID.String())
	rr := httptest.NewRecorder()
	handler.Accept(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("idempotent retry must succeed, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ConnectionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Already accepted" {
		t.Errorf("expected already-accepted message, got %q", resp.Message)
	}
	if resp.Connection == nil || resp.Connection.Status != models.ConnectionStatusAccepted {
		t.Errorf("expected current row in response")
	}
}

func TestConnectionAccept_TransitionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", services.ErrConnectionNotFound, http.StatusNotFound},
		{"not the receiver", services.ErrNotConnectionReceiver, http.StatusForbidden},
		{"not pending", services.ErrConnectionNotPending, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockConnectionService{
				acceptFunc: func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
					return nil, tt.err
				},
			}
			handler := NewConnectionHandler(svc)

			id := uuid.New().String()
			req := authedRequest(http.MethodPut, "/api/connections/"+id+"/accept", nil, testUser(models.RoleStudent))
			req.SetPathValue("id", id)
			rr := httptest.NewRecorder()
			handler.Accept(rr, req)

			if rr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rr.Code)
			}
		})
	}
}

func TestConnectionDecline_Success(t *testing.T) {
	receiver := testUser(models.RoleStudent)
	declined := sampleConnection(uuid.New(), receiver.ID, models.ConnectionStatusRejected)

	svc := &mockConnectionService{
		declineFunc: func(ctx context.Context, userID, connectionID uuid.UUID) (*models.Connection, error) {
			return declined, nil
		},
	}
	handler := NewConnectionHandler(svc)

	req := authedRequest(http.MethodPut, "/api/connections/"+declined.ID.String()+"/decline", nil, receiver)
	req.SetPathValue("id", declined.ID.String())
	rr := httptest.NewRecorder()
	handler.Decline(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestConnectionWithdraw(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"success", nil, http.StatusOK},
		{"not found", services.ErrConnectionNotFound, http.StatusNotFound},
		{"not the sender", services.ErrNotConnectionSender, http.StatusForbidden},
		{"not pending", services.ErrConnectionNotPending, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockConnectionService{
				withdrawFunc: func(ctx context.Context, userID, connectionID uuid.UUID) error {
					return tt.err
				},
			}
			handler := NewConnectionHandler(svc)

			id := uuid.New().String()
			req := authedRequest(http.MethodDelete, "/api/connections/"+id, nil, testUser(models.RoleStudent))
			req.SetPathValue("id", id)
			rr := httptest.NewRecorder()
			handler.Withdraw(rr, req)

			if rr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rr.Code)
			}
		})
	}
}

func TestConnectionHandlers_RequireAuthentication(t *testing.T) {
	handler := NewConnectionHandler(&mockConnectionService{})

	endpoints := []struct {
		name string
		call func(w http.ResponseWriter, r *http.Request)
	}{
		{"send", handler.Send},
		{"list", handler.List},
		{"accept", handler.Accept},
		{"decline", handler.Decline},
		{"withdraw", handler.Withdraw},
	}

	for _, ep := range endpoints {
		t.Run(ep.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/connections", nil)
			rr := httptest.NewRecorder()
			ep.call(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
		})
	}
}
