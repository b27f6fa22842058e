package consent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	instdomain "finlink/internal/domain/institution"
	"finlink/internal/domain/notification"
	ofclient "finlink/internal/infrastructure/institution"
	"finlink/internal/shared/telemetry"
)

// Initiation is returned by InitiateConsent: the new PENDING consent, the
// institution's authorization URL, and the anti-forgery state token the web
// layer must validate on callback.
type Initiation struct {
	Consent      *Consent `json:"consent"`
	AuthorizeURL string   `json:"authorizeUrl"`
	State        string   `json:"state"`
}

// ServiceConfig tunes the lifecycle manager.
type ServiceConfig struct {
	// RedirectURI is sent on the authorization-code exchange.
	RedirectURI string
	// RefreshLookahead is how far ahead of token expiry the sweep refreshes.
	RefreshLookahead time.Duration
}

// Service owns the consent state machine: creation, authorization callback,
// refresh, revocation and the expiry sweep.
type Service struct {
	repo         Repository
	institutions instdomain.Repository
	client       ofclient.ClientInterface
	vault        *Vault
	notifier     notification.Notifier
	recorder     *telemetry.Recorder
	cfg          ServiceConfig
}

// NewService creates a consent lifecycle manager.
func NewService(
	repo Repository,
	institutions instdomain.Repository,
	client ofclient.ClientInterface,
	vault *Vault,
	notifier notification.Notifier,
	recorder *telemetry.Recorder,
	cfg ServiceConfig,
) *Service {
	if notifier == nil {
		notifier = notification.Noop{}
	}
	if cfg.RefreshLookahead <= 0 {
		cfg.RefreshLookahead = 30 * time.Minute
	}
	return &Service{
		repo:         repo,
		institutions: institutions,
		client:       client,
		vault:        vault,
		notifier:     notifier,
		recorder:     recorder,
		cfg:          cfg,
	}
}

// InitiateConsent creates a PENDING consent for (user, institution) and
// returns the authorization URL. Fails with ErrActiveConsentExists when an
// active consent already covers the pair.
func (s *Service) InitiateConsent(ctx context.Context, userID int64, institutionID string, scopes []string) (*Initiation, error) {
	inst, err := s.institutions.GetByID(ctx, institutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load institution: %w", err)
	}

	existing, err := s.repo.FindActive(ctx, userID, institutionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to check for active consent: %w", err)
	}
	if existing != nil {
		return nil, ErrActiveConsentExists
	}

	state := uuid.NewString()
	created, err := s.repo.Create(ctx, CreateParams{
		ID:            uuid.NewString(),
		UserID:        userID,
		InstitutionID: institutionID,
		Scopes:        scopes,
		StateToken:    state,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consent: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordConsentCreated(ctx)
	}
	log.Printf("Consent %s: created PENDING for user %d at institution %s", created.ID, userID, institutionID)

	return &Initiation{
		Consent:      created,
		AuthorizeURL: s.client.AuthorizeURL(inst, userID, state, scopes),
		State:        state,
	}, nil
}

// HandleCallback exchanges the authorization code, encrypts the resulting
// token pair and transitions the consent to AUTHORIZED. The web layer
// validates the state token before calling; it is re-checked here.
func (s *Service) HandleCallback(ctx context.Context, consentID, code, state string) (*Consent, error) {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, ErrConsentNotPending
	}
	if state == "" || state != c.StateToken {
		return nil, ErrInvalidStateToken
	}

	inst, err := s.institutions.GetByID(ctx, c.InstitutionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load institution: %w", err)
	}

	token, err := s.client.ExchangeCode(ctx, inst, code, s.cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	update, err := s.encryptTokens(token, "")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.repo.MarkAuthorized(ctx, consentID, update, now); err != nil {
		return nil, fmt.Errorf("failed to store authorization: %w", err)
	}

	log.Printf("Consent %s: AUTHORIZED for user %d, token expires %s", consentID, c.UserID, update.ExpiresAt.Format(time.RFC3339))
	s.notifier.BroadcastToUser(ctx, notification.TopicConsentUpdate, c.UserID, map[string]string{
		"consentId": consentID,
		"status":    string(StatusAuthorized),
	})

	return s.repo.GetByID(ctx, consentID)
}

// RefreshToken exchanges the stored refresh token for a new token pair and
// re-encrypts it in place. The consent keeps its identity and AUTHORIZED
// status.
func (s *Service) RefreshToken(ctx context.Context, consentID string) error {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return err
	}
	if !c.IsActive(time.Now()) {
		return ErrConsentNotActive
	}
	if c.RefreshTokenCipher == "" {
		return ErrNoRefreshToken
	}

	refreshToken := s.vault.Decrypt(c.RefreshTokenCipher)
	if refreshToken == "" {
		return ErrTokenUnavailable
	}

	inst, err := s.institutions.GetByID(ctx, c.InstitutionID)
	if err != nil {
		return fmt.Errorf("failed to load institution: %w", err)
	}

	token, err := s.client.Refresh(ctx, inst, refreshToken)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}

	// Institutions may choose not to rotate the refresh token; keep the
	// stored one in that case.
	update, err := s.encryptTokens(token, c.RefreshTokenCipher)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateTokens(ctx, consentID, update); err != nil {
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	log.Printf("Consent %s: tokens refreshed, new expiry %s", consentID, update.ExpiresAt.Format(time.RFC3339))
	return nil
}

// RevokeConsent marks the consent REVOKED. The institution-side revoke is
// best-effort: a remote failure is logged, never fatal.
func (s *Service) RevokeConsent(ctx context.Context, userID int64, consentID string) error {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return err
	}
	if c.UserID != userID {
		return ErrAccessDenied
	}
	if c.Status == StatusRevoked {
		return nil
	}

	if accessToken := s.vault.Decrypt(c.AccessTokenCipher); accessToken != "" {
		inst, instErr := s.institutions.GetByID(ctx, c.InstitutionID)
		if instErr != nil {
			log.Printf("Consent %s: skipping remote revoke, institution lookup failed: %v", consentID, instErr)
		} else if revokeErr := s.client.Revoke(ctx, inst, accessToken, "access_token"); revokeErr != nil {
			log.Printf("Consent %s: remote revoke failed (marking revoked anyway): %v", consentID, revokeErr)
		}
	}

	if err := s.repo.MarkRevoked(ctx, consentID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark consent revoked: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordConsentRevoked(ctx)
	}
	log.Printf("Consent %s: REVOKED by user %d", consentID, userID)
	s.notifier.BroadcastToUser(ctx, notification.TopicConsentUpdate, c.UserID, map[string]string{
		"consentId": consentID,
		"status":    string(StatusRevoked),
	})

	return nil
}

// GetAccessToken decrypts the access token for immediate, single use.
// Callers must not persist the plaintext.
func (s *Service) GetAccessToken(ctx context.Context, consentID string) (string, error) {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return "", err
	}
	if !c.IsActive(time.Now()) {
		return "", ErrConsentNotActive
	}

	token := s.vault.Decrypt(c.AccessTokenCipher)
	if token == "" {
		return "", ErrTokenUnavailable
	}
	return token, nil
}

// GetConsent returns a consent after checking ownership.
func (s *Service) GetConsent(ctx context.Context, userID int64, consentID string) (*Consent, error) {
	c, err := s.repo.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrAccessDenied
	}
	return c, nil
}

// ListConsents returns all consents owned by a user.
func (s *Service) ListConsents(ctx context.Context, userID int64) ([]*Consent, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// RefreshExpiringTokens sweeps all consents whose expiry falls within the
// configured lookahead window and refreshes each. One consent's failure is
// logged and does not abort the sweep. Returns the number refreshed.
func (s *Service) RefreshExpiringTokens(ctx context.Context) (int, error) {
	now := time.Now()

	expiring, err := s.repo.ListExpiringBetween(ctx, now, now.Add(s.cfg.RefreshLookahead))
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring consents: %w", err)
	}

	refreshed := 0
	for _, c := range expiring {
		if err := s.RefreshToken(ctx, c.ID); err != nil {
			log.Printf("Token refresh sweep: consent %s failed: %v", c.ID, err)
			continue
		}
		refreshed++
	}

	log.Printf("Token refresh sweep: %d/%d consents refreshed", refreshed, len(expiring))
	return refreshed, nil
}

// encryptTokens builds a TokenUpdate from a token response. When the
// institution did not rotate the refresh token, fallbackRefreshCipher is
// carried forward.
func (s *Service) encryptTokens(token *ofclient.TokenResponse, fallbackRefreshCipher string) (TokenUpdate, error) {
	accessCipher, err := s.vault.Encrypt(token.AccessToken)
	if err != nil {
		return TokenUpdate{}, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	refreshCipher := fallbackRefreshCipher
	if token.RefreshToken != "" {
		refreshCipher, err = s.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return TokenUpdate{}, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}

	return TokenUpdate{
		AccessTokenCipher:  accessCipher,
		RefreshTokenCipher: refreshCipher,
		ExpiresAt:          token.ExpiryFrom(time.Now()),
	}, nil
}
