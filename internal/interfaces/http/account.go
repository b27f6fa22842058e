package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"finlink/internal/domain/account"
	"finlink/internal/domain/consent"
	"finlink/internal/domain/openfinance"
	"finlink/internal/shared/middleware"
)

// AccountHandler exposes connected accounts and discovery over HTTP
type AccountHandler struct {
	accounts  account.Repository
	discovery *openfinance.DiscoveryService
}

// NewAccountHandler creates a new connected-account handler
func NewAccountHandler(accounts account.Repository, discovery *openfinance.DiscoveryService) *AccountHandler {
	return &AccountHandler{accounts: accounts, discovery: discovery}
}

type AccountResponse struct {
	ID                string  `json:"id"`
	ConsentID         string  `json:"consentId"`
	InstitutionID     string  `json:"institutionId"`
	ExternalAccountID string  `json:"externalAccountId"`
	AccountType       string  `json:"accountType"`
	AccountNumber     string  `json:"accountNumber,omitempty"`
	BranchCode        string  `json:"branchCode,omitempty"`
	HolderName        string  `json:"holderName,omitempty"`
	Currency          string  `json:"currency"`
	Balance           string  `json:"balance"`
	SyncStatus        string  `json:"syncStatus"`
	LastSyncedAt      *string `json:"lastSyncedAt"`
	CreatedAt         string  `json:"createdAt"`
}

// HandleListAccounts returns all connected accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.accounts.ListByUserID(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing accounts for user %d: %v", userID, err)
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, toAccountResponse(acc))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleDiscoverAccounts lists the remote accounts under a consent and
// upserts the local records
func (h *AccountHandler) HandleDiscoverAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

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

	accounts, err := h.discovery.DiscoverAccounts(r.Context(), userID, consentID)
	if err != nil {
		switch {
		case errors.Is(err, consent.ErrConsentNotFound):
			http.Error(w, "Consent not found", http.StatusNotFound)
		case errors.Is(err, consent.ErrAccessDenied):
			http.Error(w, "Forbidden", http.StatusForbidden)
		case errors.Is(err, consent.ErrConsentNotActive), errors.Is(err, consent.ErrTokenUnavailable):
			http.Error(w, "Consent is not active", http.StatusConflict)
		default:
			log.Printf("Error discovering accounts for consent %s: %v", consentID, err)
			http.Error(w, "Failed to discover accounts", http.StatusBadGateway)
		}
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, toAccountResponse(acc))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func toAccountResponse(acc *account.ConnectedAccount) AccountResponse {
	return AccountResponse{
		ID:                acc.ID,
		ConsentID:         acc.ConsentID,
		InstitutionID:     acc.InstitutionID,
		ExternalAccountID: acc.ExternalAccountID,
		AccountType:       acc.AccountType,
		AccountNumber:     acc.AccountNumber,
		BranchCode:        acc.BranchCode,
		HolderName:        acc.HolderName,
		Currency:          acc.Currency,
		Balance:           acc.Balance.String(),
		SyncStatus:        string(acc.SyncStatus),
		LastSyncedAt:      formatTimePtr(acc.LastSyncedAt),
		CreatedAt:         acc.CreatedAt.Format(time.RFC3339),
	}
}
