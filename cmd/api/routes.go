package main

import (
	"log"
	"net/http"

	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/shared/config"
	"finlink/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	authMiddleware := middleware.Auth(deps.JWT)

	if cfg.OpenFinance.Enabled {
		// Authorization redirect from the institution (the state token is
		// the only credential the institution carries back)
		mux.HandleFunc("/api/openfinance/consents/callback", deps.ConsentHandler.HandleCallback)

		mux.Handle("/api/openfinance/institutions", authMiddleware(http.HandlerFunc(deps.InstitutionHandler.HandleListInstitutions)))
		mux.Handle("/api/openfinance/consents", authMiddleware(http.HandlerFunc(deps.ConsentHandler.HandleConsents)))
		mux.Handle("/api/openfinance/consents/{id}", authMiddleware(http.HandlerFunc(deps.ConsentHandler.HandleConsentByID)))
		mux.Handle("/api/openfinance/consents/{id}/accounts", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleDiscoverAccounts)))
		mux.Handle("/api/openfinance/accounts", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleListAccounts)))
		mux.Handle("/api/openfinance/accounts/{id}/sync", authMiddleware(http.HandlerFunc(deps.SyncHandler.HandleSyncAccount)))
		mux.Handle("/api/openfinance/accounts/{id}/sync-logs", authMiddleware(http.HandlerFunc(deps.SyncHandler.HandleSyncHistory)))
	} else {
		log.Println("Open Finance routes not registered (feature disabled)")
	}

	mux.Handle("/api/notifications/register-device", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleRegisterDevice)))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	} else {
		handler = middleware.Tracing(handler)
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}
