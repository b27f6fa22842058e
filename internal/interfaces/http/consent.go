// Package http contains the HTTP handlers for the aggregation API.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"finlink/internal/domain/consent"
	"finlink/internal/domain/institution"
	"finlink/internal/shared/middleware"
)

// ConsentHandler exposes the consent lifecycle over HTTP
type ConsentHandler struct {
	consentService *consent.Service
}

// NewConsentHandler creates a new consent handler
func NewConsentHandler(consentService *consent.Service) *ConsentHandler {
	return &ConsentHandler{consentService: consentService}
}

type InitiateConsentRequest struct {
	InstitutionID string   `json:"institutionId"`
	Scopes        []string `json:"scopes"`
}

type ConsentResponse struct {
	ID            string   `json:"id"`
	InstitutionID string   `json:"institutionId"`
	Status        string   `json:"status"`
	Scopes        []string `json:"scopes"`
	ExpiresAt     *string  `json:"expiresAt"`
	CreatedAt     string   `json:"createdAt"`
	AuthorizedAt  *string  `json:"authorizedAt"`
	RevokedAt     *string  `json:"revokedAt"`
}

type InitiateConsentResponse struct {
	Consent      ConsentResponse `json:"consent"`
	AuthorizeURL string          `json:"authorizeUrl"`
}

// HandleConsents dispatches the consent collection endpoints
func (h *ConsentHandler) HandleConsents(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleListConsents(w, r, userID)
	case http.MethodPost:
		h.handleInitiateConsent(w, r, userID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleInitiateConsent creates a PENDING consent and returns the redirect URL
func (h *ConsentHandler) handleInitiateConsent(w http.ResponseWriter, r *http.Request, userID int64) {
	var req InitiateConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.InstitutionID == "" {
		http.Error(w, "institutionId is required", http.StatusBadRequest)
		return
	}

	initiation, err := h.consentService.InitiateConsent(r.Context(), userID, req.InstitutionID, req.Scopes)
	if err != nil {
		switch {
		case errors.Is(err, institution.ErrInstitutionNotFound):
			http.Error(w, "Institution not found", http.StatusNotFound)
		case errors.Is(err, consent.ErrActiveConsentExists):
			http.Error(w, "An active consent already exists for this institution", http.StatusConflict)
		default:
			log.Printf("Error initiating consent for user %d: %v", userID, err)
			http.Error(w, "Failed to initiate consent", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(InitiateConsentResponse{
		Consent:      toConsentResponse(initiation.Consent),
		AuthorizeURL: initiation.AuthorizeURL,
	})
}

// handleListConsents returns all consents for the authenticated user
func (h *ConsentHandler) handleListConsents(w http.ResponseWriter, r *http.Request, userID int64) {
	consents, err := h.consentService.ListConsents(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing consents for user %d: %v", userID, err)
		http.Error(w, "Failed to list consents", http.StatusInternalServerError)
		return
	}

	response := make([]ConsentResponse, 0, len(consents))
	for _, c := range consents {
		response = append(response, toConsentResponse(c))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleCallback completes the authorization redirect from the institution.
// The state query parameter is the anti-forgery token issued on initiation.
func (h *ConsentHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	consentID := r.URL.Query().Get("consentId")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if consentID == "" || code == "" || state == "" {
		http.Error(w, "consentId, code and state are required", http.StatusBadRequest)
		return
	}

	c, err := h.consentService.HandleCallback(r.Context(), consentID, code, state)
	if err != nil {
		switch {
		case errors.Is(err, consent.ErrConsentNotFound):
			http.Error(w, "Consent not found", http.StatusNotFound)
		case errors.Is(err, consent.ErrConsentNotPending):
			http.Error(w, "Consent is not pending authorization", http.StatusConflict)
		case errors.Is(err, consent.ErrInvalidStateToken):
			http.Error(w, "Invalid state token", http.StatusForbidden)
		default:
			log.Printf("Error completing consent %s callback: %v", consentID, err)
			http.Error(w, "Failed to complete authorization", http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toConsentResponse(c))
}

// HandleConsentByID dispatches the per-consent endpoints
func (h *ConsentHandler) HandleConsentByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	consentID := r.PathValue("id")
	if consentID == "" {
		http.Error(w, "Consent ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGetConsent(w, r, userID, consentID)
	case http.MethodDelete:
		h.handleRevokeConsent(w, r, userID, consentID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ConsentHandler) handleGetConsent(w http.ResponseWriter, r *http.Request, userID int64, consentID string) {
	c, err := h.consentService.GetConsent(r.Context(), userID, consentID)
	if err != nil {
		writeConsentError(w, userID, consentID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toConsentResponse(c))
}

// handleRevokeConsent revokes a consent. Revoking an already revoked consent
// succeeds without effect.
func (h *ConsentHandler) handleRevokeConsent(w http.ResponseWriter, r *http.Request, userID int64, consentID string) {
	if err := h.consentService.RevokeConsent(r.Context(), userID, consentID); err != nil {
		writeConsentError(w, userID, consentID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeConsentError(w http.ResponseWriter, userID int64, consentID string, err error) {
	switch {
	case errors.Is(err, consent.ErrConsentNotFound):
		http.Error(w, "Consent not found", http.StatusNotFound)
	case errors.Is(err, consent.ErrAccessDenied):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		log.Printf("Error handling consent %s for user %d: %v", consentID, userID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func toConsentResponse(c *consent.Consent) ConsentResponse {
	return ConsentResponse{
		ID:            c.ID,
		InstitutionID: c.InstitutionID,
		Status:        string(c.Status),
		Scopes:        c.Scopes,
		ExpiresAt:     formatTimePtr(c.ExpiresAt),
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		AuthorizedAt:  formatTimePtr(c.AuthorizedAt),
		RevokedAt:     formatTimePtr(c.RevokedAt),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
