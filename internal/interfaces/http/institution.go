package http

import (
	"encoding/json"
	"log"
	"net/http"

	"finlink/internal/domain/institution"
)

// InstitutionHandler exposes the institution registry over HTTP
type InstitutionHandler struct {
	institutions institution.Repository
}

// NewInstitutionHandler creates a new institution handler
func NewInstitutionHandler(institutions institution.Repository) *InstitutionHandler {
	return &InstitutionHandler{institutions: institutions}
}

type InstitutionResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RequiresMTLS bool   `json:"requiresMtls"`
}

// HandleListInstitutions returns the institutions available for connection
func (h *InstitutionHandler) HandleListInstitutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	institutions, err := h.institutions.List(r.Context())
	if err != nil {
		log.Printf("Error listing institutions: %v", err)
		http.Error(w, "Failed to list institutions", http.StatusInternalServerError)
		return
	}

	response := make([]InstitutionResponse, 0, len(institutions))
	for _, inst := range institutions {
		response = append(response, InstitutionResponse{
			ID:           inst.ID,
			Name:         inst.Name,
			RequiresMTLS: inst.RequiresMTLS,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
