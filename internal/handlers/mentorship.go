package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/campusloop/campusloop/internal/models"
	"github.com/campusloop/campusloop/internal/services"
)

type MentorshipHandler struct {
	mentorshipService services.MentorshipServiceInterface
}

func NewMentorshipHandler(mentorshipService services.MentorshipServiceInterface) *MentorshipHandler {
	return &MentorshipHandler{mentorshipService: mentorshipService}
}

type CreateMentorshipRequest struct {
	MentorID string `json:"mentor_id"`
	Topic    string `json:"topic"`
	Message  string `json:"message"`
}

type RejectMentorshipRequest struct {
	SuggestedMentorID string `json:"suggested_mentor_id,omitempty"`
}

type FeedbackRequest struct {
	Helpful *bool `json:"helpful"`
}

type MentorshipResponse struct {
	Request *models.MentorshipRequest `json:"request,omitempty"`
	Message string                    `json:"message,omitempty"`
}

type MentorshipListResponse struct {
	Requests []models.MentorshipWithUsers `json:"requests"`
}

func (h *MentorshipHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !GetCapabilitiesFromContext(r.Context()).CanRequestMentorship {
		writeError(w, http.StatusForbidden, "Your account cannot request mentorship")
		return
	}

	var req CreateMentorshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mentorID, err := uuid.Parse(req.MentorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid mentor ID")
		return
	}

	created, err := h.mentorshipService.Create(r.Context(), models.CreateMentorshipParams{
		MenteeID: user.ID,
		MentorID: mentorID,
		Topic:    req.Topic,
		Message:  req.Message,
	})
	if errors.Is(err, services.ErrCannotMentorSelf) {
		writeError(w, http.StatusBadRequest, "Cannot request mentorship from yourself")
		return
	}
	if errors.Is(err, services.ErrTopicRequired) {
		writeError(w, http.StatusBadRequest, "Topic is required")
		return
	}
	if errors.Is(err, services.ErrMentorNotFound) {
		writeError(w, http.StatusNotFound, "Mentor not found")
		return
	}
	if errors.Is(err, services.ErrSlotsExhausted) {
		writeError(w, http.StatusConflict, "Mentor has no remaining slots")
		return
	}
	if errors.Is(err, services.ErrDuplicateActiveRequest) {
		writeError(w, http.StatusConflict, "You already have an active request to this mentor")
		return
	}
	if err != nil {
		log.Printf("Error creating mentorship request: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, MentorshipResponse{Request: created})
}

func (h *MentorshipHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.mentorshipService.ListForUser(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error listing mentorship requests: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MentorshipListResponse{Requests: requests})
}

func (h *MentorshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	req, err := h.mentorshipService.Get(r.Context(), user.ID, requestID)
	if errors.Is(err, services.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "Mentorship request not found")
		return
	}
	if errors.Is(err, services.ErrNotAuthorized) {
		writeError(w, http.StatusForbidden, "You are not a party to this request")
		return
	}
	if err != nil {
		log.Printf("Error getting mentorship request: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MentorshipResponse{Request: req})
}

func (h *MentorshipHandler) Accept(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	req, err := h.mentorshipService.Accept(r.Context(), user.ID, requestID)
	if handled := h.writeTransitionError(w, r, requestID, err, "accepted"); handled {
		return
	}

	writeJSON(w, http.StatusOK, MentorshipResponse{Request: req, Message: "Request accepted"})
}

func (h *MentorshipHandler) Reject(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	// Body is optional; an empty body means no suggestion.
	var body RejectMentorshipRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var suggestedID *uuid.UUID
	if body.SuggestedMentorID != "" {
		parsed, err := uuid.Parse(body.SuggestedMentorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid suggested mentor ID")
			return
		}
		suggestedID = &parsed
	}

	req, err := h.mentorshipService.Reject(r.Context(), user.ID, requestID, suggestedID)
	if errors.Is(err, services.ErrInvalidSuggestion) {
		writeError(w, http.StatusBadRequest, "Suggested mentor must differ from the rejecting mentor")
		return
	}
	if errors.Is(err, services.ErrMentorNotFound) {
		writeError(w, http.StatusNotFound, "Suggested mentor not found")
		return
	}
	if handled := h.writeTransitionError(w, r, requestID, err, "rejected"); handled {
		return
	}

	writeJSON(w, http.StatusOK, MentorshipResponse{Request: req, Message: "Request rejected"})
}

func (h *MentorshipHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	req, err := h.mentorshipService.CancelPending(r.Context(), user.ID, requestID)
	if errors.Is(err, services.ErrInvalidTransition) {
		// A mentee may also leave an accepted mentorship through the same
		// endpoint; retry as the accepted-state cancel.
		req, err = h.mentorshipService.CancelAccepted(r.Context(), user.ID, requestID)
	}
	if handled := h.writeTransitionError(w, r, requestID, err, "cancelled"); handled {
		return
	}

	writeJSON(w, http.StatusOK, MentorshipResponse{Request: req, Message: "Request cancelled"})
}

func (h *MentorshipHandler) Complete(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !GetCapabilitiesFromContext(r.Context()).CanModerate {
		writeError(w, http.StatusForbidden, "Moderator access required")
		return
	}

	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	req, err := h.mentorshipService.Complete(r.Context(), requestID)
	if handled := h.writeTransitionError(w, r, requestID, err, "completed"); handled {
		return
	}

	writeJSON(w, http.StatusOK, MentorshipResponse{Request: req, Message: "Mentorship completed"})
}

func (h *MentorshipHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	var body FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Helpful == nil {
		writeError(w, http.StatusBadRequest, "Feedback verdict is required")
		return
	}

	req, err := h.mentorshipService.SubmitFeedback(r.Context(), user.ID, requestID, *body.Helpful)
	if errors.Is(err, services.ErrFeedbackAlreadySet) {
		writeError(w, http.StatusConflict, "Feedback has already been submitted")
		return
	}
	if handled := h.writeTransitionError(w, r, requestID, err, "feedback recorded"); handled {
		return
	}

	writeJSON(w, http.StatusOK, MentorshipResponse{Request: req, Message: "Feedback recorded"})
}

// writeTransitionError maps the shared lifecycle errors. A retried transition
// that already landed is reported as success with the current row so clients
// can treat retries as idempotent.
func (h *MentorshipHandler) writeTransitionError(w http.ResponseWriter, r *http.Request, requestID uuid.UUID, err error, applied string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, services.ErrAlreadyApplied) {
		// The transition itself already vetted the actor; the reload must
		// not re-check parties or a moderator retrying Complete would be
		// rejected on a request it is not a party to.
		current, getErr := h.mentorshipService.GetByID(r.Context(), requestID)
		if getErr != nil {
			log.Printf("Error reloading mentorship request after idempotent retry: %v", getErr)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return true
		}
		writeJSON(w, http.StatusOK, MentorshipResponse{Request: current, Message: "Already " + applied})
		return true
	}
	if errors.Is(err, services.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "Mentorship request not found")
		return true
	}
	if errors.Is(err, services.ErrNotAuthorized) {
		writeError(w, http.StatusForbidden, "You are not a party to this request")
		return true
	}
	if errors.Is(err, services.ErrSlotsExhausted) {
		writeError(w, http.StatusConflict, "Mentor has no remaining slots")
		return true
	}
	if errors.Is(err, services.ErrInvalidTransition) {
		writeError(w, http.StatusConflict, "Transition not allowed from current status")
		return true
	}
	log.Printf("Error applying mentorship transition: %v", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
	return true
}

func parseRequestID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}
