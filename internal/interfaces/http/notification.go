package http

import (
	"encoding/json"
	"log"
	"net/http"

	"finlink/internal/infrastructure/postgres"
	"finlink/internal/shared/middleware"
)

// NotificationHandler manages FCM device token registration
type NotificationHandler struct {
	deviceTokens *postgres.DeviceTokenRepository
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(deviceTokens *postgres.DeviceTokenRepository) *NotificationHandler {
	return &NotificationHandler{deviceTokens: deviceTokens}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"deviceType"`
}

// HandleRegisterDevice registers an FCM device token for the authenticated user
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if err := h.deviceTokens.Register(r.Context(), userID, req.Token, req.DeviceType); err != nil {
		log.Printf("Error registering device token for user %d: %v", userID, err)
		http.Error(w, "Failed to register device", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
