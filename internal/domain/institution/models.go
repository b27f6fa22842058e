// Package institution holds the reference data for remote Open Finance
// providers. Rows are seeded by operations tooling and read-only here.
package institution

import "errors"

var ErrInstitutionNotFound = errors.New("institution not found")

// Institution describes one remote bank/provider: its identity, OAuth
// endpoints and transport requirements.
type Institution struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	AuthorizeEndpoint string `json:"authorizeEndpoint"`
	TokenEndpoint     string `json:"tokenEndpoint"`
	RevokeEndpoint    string `json:"revokeEndpoint"`
	APIBaseURL        string `json:"apiBaseUrl"`
	RequiresMTLS      bool   `json:"requiresMtls"`
}
