package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"finlink/internal/domain/account"
	"finlink/internal/domain/openfinance"
	"finlink/internal/shared/middleware"
)

// SyncHandler exposes manual transaction synchronization over HTTP
type SyncHandler struct {
	engine   *openfinance.SyncEngine
	accounts account.Repository
	syncLogs account.SyncLogRepository
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(engine *openfinance.SyncEngine, accounts account.Repository, syncLogs account.SyncLogRepository) *SyncHandler {
	return &SyncHandler{engine: engine, accounts: accounts, syncLogs: syncLogs}
}

type SyncLogResponse struct {
	ID              string `json:"id"`
	SyncType        string `json:"syncType"`
	Status          string `json:"status"`
	RecordsImported int    `json:"recordsImported"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	SyncedAt        string `json:"syncedAt"`
}

// HandleSyncAccount triggers an on-demand sync for one account. The optional
// from/to query parameters (RFC 3339) override the incremental window.
func (h *SyncHandler) HandleSyncAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	if !h.ownsAccount(w, r, userID, accountID) {
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		http.Error(w, "Invalid from parameter (expected RFC 3339)", http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		http.Error(w, "Invalid to parameter (expected RFC 3339)", http.StatusBadRequest)
		return
	}

	result, err := h.engine.SyncTransactions(r.Context(), accountID, from, to)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrAccountNotFound):
			http.Error(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, account.ErrAccountDisabled):
			http.Error(w, "Account sync is disabled", http.StatusConflict)
		default:
			log.Printf("Error syncing account %s: %v", accountID, err)
			http.Error(w, "Failed to sync account", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// HandleSyncHistory returns the recent sync attempts for an account
func (h *SyncHandler) HandleSyncHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	if !h.ownsAccount(w, r, userID, accountID) {
		return
	}

	logs, err := h.syncLogs.ListByAccountID(r.Context(), accountID, 20)
	if err != nil {
		log.Printf("Error listing sync logs for account %s: %v", accountID, err)
		http.Error(w, "Failed to list sync history", http.StatusInternalServerError)
		return
	}

	response := make([]SyncLogResponse, 0, len(logs))
	for _, entry := range logs {
		response = append(response, SyncLogResponse{
			ID:              entry.ID,
			SyncType:        entry.SyncType,
			Status:          string(entry.Status),
			RecordsImported: entry.RecordsImported,
			ErrorMessage:    entry.ErrorMessage,
			SyncedAt:        entry.SyncedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ownsAccount verifies the account exists and belongs to the user, writing
// the error response itself when it does not.
func (h *SyncHandler) ownsAccount(w http.ResponseWriter, r *http.Request, userID int64, accountID string) bool {
	acc, err := h.accounts.GetByID(r.Context(), accountID)
	if errors.Is(err, account.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return false
	}
	if err != nil {
		log.Printf("Error loading account %s: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return false
	}
	if acc.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
