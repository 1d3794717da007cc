package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/models"
	"github.com/campusloop/campusloop/internal/services"
)

type ConnectionHandler struct {
	connectionService services.ConnectionServiceInterface
}

func NewConnectionHandler(connectionService services.ConnectionServiceInterface) *ConnectionHandler {
	return &ConnectionHandler{connectionService: connectionService}
}

type SendConnectionRequest struct {
	ReceiverID string `json:"receiver_id"`
}

type ConnectionResponse struct {
	Connection *models.Connection `json:"connection,omitempty"`
	Message    string             `json:"message,omitempty"`
}

type ConnectionListResponse struct {
	Connections []models.ConnectionWithUser `json:"connections"`
}

func (h *ConnectionHandler) Send(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req SendConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid receiver ID")
		return
	}

	conn, err := h.connectionService.Send(r.Context(), user.ID, receiverID)
	if errors.Is(err, services.ErrCannotConnectSelf) {
		writeError(w, http.StatusBadRequest, "Cannot send a connection request to yourself")
		return
	}
	if errors.Is(err, services.ErrConnectionExists) {
		writeError(w, http.StatusConflict, "Connection already exists")
		return
	}
	if err != nil {
		log.Printf("Error sending connection request: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, ConnectionResponse{Connection: conn, Message: "Connection request sent"})
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	status := models.ConnectionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.ConnectionStatusAccepted
	}
	if status != models.ConnectionStatusPending && status != models.ConnectionStatusAccepted && status != models.ConnectionStatusRejected {
		writeError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	connections, err := h.connectionService.List(r.Context(), user.ID, status)
	if err != nil {
		log.Printf("Error listing connections: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ConnectionListResponse{Connections: connections})
}

func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	connectionID, err := parseConnectionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}

	conn, err := h.connectionService.Accept(r.Context(), user.ID, connectionID)
	if handled := h.writeConnectionError(w, r, user.ID, connectionID, err, "accepted"); handled {
		return
	}

	writeJSON(w, http.StatusOK, ConnectionResponse{Connection: conn, Message: "Connection accepted"})
}

func (h *ConnectionHandler) Decline(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	connectionID, err := parseConnectionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}

	conn, err := h.connectionService.Decline(r.Context(), user.ID, connectionID)
	if handled := h.writeConnectionError(w, r, user.ID, connectionID, err, "declined"); handled {
		return
	}

	writeJSON(w, http.StatusOK, ConnectionResponse{Connection: conn, Message: "Connection declined"})
}

func (h *ConnectionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	connectionID, err := parseConnectionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}

	err = h.connectionService.Withdraw(r.Context(), user.ID, connectionID)
	if errors.Is(err, services.ErrConnectionNotFound) {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	if errors.Is(err, services.ErrNotConnectionSender) {
		writeError(w, http.StatusForbidden, "Only the sender can withdraw this request")
		return
	}
	if errors.Is(err, services.ErrConnectionNotPending) {
		writeError(w, http.StatusConflict, "Connection request is not pending")
		return
	}
	if err != nil {
		log.Printf("Error withdrawing connection request: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ConnectionResponse{Message: "Connection request withdrawn"})
}

// writeConnectionError maps accept/decline failures; a retry that already
// landed returns the current row as success.
func (h *ConnectionHandler) writeConnectionError(w http.ResponseWriter, r *http.Request, userID, connectionID uuid.UUID, err error, applied string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, services.ErrAlreadyApplied) {
		conn, getErr := h.connectionService.GetByID(r.Context(), connectionID)
		if getErr != nil {
			log.Printf("Error reloading connection after idempotent retry: %v", getErr)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return true
		}
		writeJSON(w, http.StatusOK, ConnectionResponse{Connection: conn, Message: "Already " + applied})
		return true
	}
	if errors.Is(err, services.ErrConnectionNotFound) {
		writeError(w, http.StatusNotFound, "Connection not found")
		return true
	}
	if errors.Is(err, services.ErrNotConnectionReceiver) {
		writeError(w, http.StatusForbidden, "Only the receiver can act on this request")
		return true
	}
	if errors.Is(err, services.ErrConnectionNotPending) {
		writeError(w, http.StatusConflict, "Connection request is not pending")
		return true
	}
	log.Printf("Error applying connection transition: %v", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
	return true
}

func parseConnectionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}
