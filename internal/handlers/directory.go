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

type DirectoryHandler struct {
	directoryService services.DirectoryServiceInterface
}

func NewDirectoryHandler(directoryService services.DirectoryServiceInterface) *DirectoryHandler {
	return &DirectoryHandler{directoryService: directoryService}
}

type UpsertOfferRequest struct {
	HelpType        string   `json:"help_type"`
	CommitmentLevel string   `json:"commitment_level"`
	SessionMinutes  int      `json:"session_minutes"`
	Channels        []string `json:"channels"`
	Availability    string   `json:"availability"`
	AvailableSlots  int      `json:"available_slots"`
}

type DirectoryListResponse struct {
	Mentors []models.MentorListing `json:"mentors"`
}

type MentorResponse struct {
	Mentor  *models.MentorListing `json:"mentor,omitempty"`
	Offer   *models.MentorOffer   `json:"offer,omitempty"`
	Message string                `json:"message,omitempty"`
}

func (h *DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !GetCapabilitiesFromContext(r.Context()).CanBrowseMentors {
		writeError(w, http.StatusForbidden, "Your account cannot browse mentors")
		return
	}

	domain := r.URL.Query().Get("domain")
	mentors, err := h.directoryService.ListMentors(r.Context(), domain)
	if err != nil {
		log.Printf("Error listing mentors: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, DirectoryListResponse{Mentors: mentors})
}

func (h *DirectoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !GetCapabilitiesFromContext(r.Context()).CanBrowseMentors {
		writeError(w, http.StatusForbidden, "Your account cannot browse mentors")
		return
	}

	mentorID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid mentor ID")
		return
	}

	mentor, err := h.directoryService.LookupMentor(r.Context(), mentorID)
	if errors.Is(err, services.ErrMentorNotFound) {
		writeError(w, http.StatusNotFound, "Mentor not found")
		return
	}
	if err != nil {
		log.Printf("Error looking up mentor: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MentorResponse{Mentor: mentor})
}

func (h *DirectoryHandler) UpsertOffer(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !GetCapabilitiesFromContext(r.Context()).CanOfferMentorship {
		writeError(w, http.StatusForbidden, "Your account cannot offer mentorship")
		return
	}

	var req UpsertOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.directoryService.UpsertOffer(r.Context(), models.UpsertOfferParams{
		MentorID:        user.ID,
		HelpType:        req.HelpType,
		CommitmentLevel: req.CommitmentLevel,
		SessionMinutes:  req.SessionMinutes,
		Channels:        req.Channels,
		Availability:    req.Availability,
		AvailableSlots:  req.AvailableSlots,
	})
	if errors.Is(err, services.ErrInvalidOffer) {
		writeError(w, http.StatusBadRequest, "Offer must have at least one slot")
		return
	}
	if errors.Is(err, services.ErrSlotsBelowMentees) {
		writeError(w, http.StatusConflict, "Available slots cannot drop below current mentees")
		return
	}
	if err != nil {
		log.Printf("Error upserting mentor offer: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MentorResponse{Offer: offer, Message: "Offer published"})
}

func (h *DirectoryHandler) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if !GetCapabilitiesFromContext(r.Context()).CanOfferMentorship {
		writeError(w, http.StatusForbidden, "Your account cannot offer mentorship")
		return
	}

	err := h.directoryService.WithdrawOffer(r.Context(), user.ID)
	if errors.Is(err, services.ErrMentorNotFound) {
		writeError(w, http.StatusNotFound, "No published offer to withdraw")
		return
	}
	if errors.Is(err, services.ErrOfferInUse) {
		writeError(w, http.StatusConflict, "Offer still has active mentees")
		return
	}
	if err != nil {
		log.Printf("Error withdrawing mentor offer: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, MentorResponse{Message: "Offer withdrawn"})
}
