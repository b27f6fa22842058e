package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/shared/auth"
	"finlink/internal/shared/config"
)

func testDependencies(enabled bool) *Dependencies {
	deps := &Dependencies{
		JWT:                 auth.NewJWT("test-secret"),
		NotificationHandler: httphandlers.NewNotificationHandler(nil),
	}
	if enabled {
		deps.ConsentHandler = httphandlers.NewConsentHandler(nil)
		deps.AccountHandler = httphandlers.NewAccountHandler(nil, nil)
		deps.SyncHandler = httphandlers.NewSyncHandler(nil, nil, nil)
		deps.InstitutionHandler = httphandlers.NewInstitutionHandler(nil)
	}
	return deps
}

func TestSetupRoutes_OpenFinanceDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.OpenFinance.Enabled = false

	handler := SetupRoutes(testDependencies(false), cfg)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"health stays up", "/health", http.StatusOK},
		{"institutions not registered", "/api/openfinance/institutions", http.StatusNotFound},
		{"consents not registered", "/api/openfinance/consents", http.StatusNotFound},
		{"callback not registered", "/api/openfinance/consents/callback", http.StatusNotFound},
		{"device registration still routed", "/api/notifications/register-device", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestSetupRoutes_OpenFinanceEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.OpenFinance.Enabled = true

	handler := SetupRoutes(testDependencies(true), cfg)

	// Registered routes reject the missing credential instead of 404ing.
	req := httptest.NewRequest(http.MethodGet, "/api/openfinance/institutions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/openfinance/institutions status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
