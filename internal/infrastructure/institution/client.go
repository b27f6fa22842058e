// Package institution implements the typed client for institution APIs:
// OAuth authorize/token/revoke plus paginated account, transaction and
// balance reads, all over the mTLS transport produced by the certificate
// provisioner.
package institution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "finlink/internal/domain/institution"
	"finlink/internal/infrastructure/certs"
)

const (
	defaultTimeout  = 30 * time.Second
	accountsPath    = "/accounts"
	transactionsFmt = "/accounts/%s/transactions"
	balanceFmt      = "/accounts/%s/balances"
)

// ErrUnauthorized is returned when the institution rejects the access token.
var ErrUnauthorized = fmt.Errorf("institution rejected the access token")

// Client talks to institution APIs over mutual TLS.
type Client struct {
	httpClient *http.Client
}

var _ ClientInterface = (*Client)(nil)

// NewClient builds a client whose transport carries the shared TLS context.
// The certificate provisioner is consulted once, at construction.
func NewClient(ctx context.Context, provisioner *certs.Provisioner) (*Client, error) {
	tlsConfig, err := provisioner.ClientTLSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS context: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsConfig,
				MaxIdleConnsPerHost: 4,
			},
		},
	}, nil
}

// TokenResponse is the result of an authorization-code exchange or refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExpiryFrom converts the relative expires_in into an absolute timestamp.
func (t *TokenResponse) ExpiryFrom(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// AccountInfo is one remote account as listed by the institution.
type AccountInfo struct {
	ExternalID    string `json:"accountId"`
	Type          string `json:"type"`
	Number        string `json:"number"`
	BranchCode    string `json:"branchCode"`
	HolderName    string `json:"holderName"`
	Currency      string `json:"currency"`
	BalanceString string `json:"balance"` // API returns balance as string
}

// GetBalance returns the balance as a decimal.
func (a *AccountInfo) GetBalance() (decimal.Decimal, error) {
	if a.BalanceString == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(a.BalanceString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", a.BalanceString, err)
	}
	return d, nil
}

// RemoteTransaction is one transaction as returned by the institution.
type RemoteTransaction struct {
	ID                   string `json:"transactionId"`
	Description          string `json:"description"`
	AmountString         string `json:"amount"` // API returns amount as string
	Currency             string `json:"currency"`
	CreditDebitIndicator string `json:"creditDebitIndicator"` // "CREDIT" or "DEBIT"
	DateString           string `json:"date"`                 // RFC 3339
}

// GetAmount returns the absolute amount as a decimal.
func (t *RemoteTransaction) GetAmount() (decimal.Decimal, error) {
	if t.AmountString == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(t.AmountString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", t.AmountString, err)
	}
	return d.Abs(), nil
}

// GetDate parses the transaction date.
func (t *RemoteTransaction) GetDate() (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, t.DateString)
	if err != nil {
		parsed, err = time.Parse("2006-01-02", t.DateString)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", t.DateString, err)
		}
	}
	return parsed, nil
}

// TransactionPage is one page of remote transactions.
type TransactionPage struct {
	Transactions []RemoteTransaction `json:"transactions"`
	Page         int                 `json:"page"`
	TotalPages   int                 `json:"totalPages"`
}

// BalanceInfo is the current balance of one remote account.
type BalanceInfo struct {
	BalanceString string `json:"balance"`
	Currency      string `json:"currency"`
}

// GetBalance returns the balance as a decimal.
func (b *BalanceInfo) GetBalance() (decimal.Decimal, error) {
	if b.BalanceString == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(b.BalanceString)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", b.BalanceString, err)
	}
	return d, nil
}

// errorResponse is the institution's error payload.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// AuthorizeURL builds the institution's authorization URL for the consent
// flow. No remote call is made.
func (c *Client) AuthorizeURL(inst *domain.Institution, userID int64, state string, scopes []string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", strconv.FormatInt(userID, 10))
	q.Set("state", state)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	return inst.AuthorizeEndpoint + "?" + q.Encode()
}

// ExchangeCode exchanges an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, inst *domain.Institution, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	return c.postToken(ctx, inst.TokenEndpoint, form)
}

// Refresh exchanges a refresh token for a new token pair. The institution
// may or may not rotate the refresh token.
func (c *Client) Refresh(ctx context.Context, inst *domain.Institution, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return c.postToken(ctx, inst.TokenEndpoint, form)
}

// Revoke asks the institution to invalidate a token. Best-effort: callers
// treat a failure here as non-fatal.
func (c *Client) Revoke(ctx context.Context, inst *domain.Institution, token, tokenType string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", tokenType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.RevokeEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute revoke request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("revoke failed with status %d", resp.StatusCode)
	}
	return nil
}

// ListAccounts fetches the remote accounts visible under an access token.
func (c *Client) ListAccounts(ctx context.Context, inst *domain.Institution, accessToken string) ([]AccountInfo, error) {
	var payload struct {
		Accounts []AccountInfo `json:"accounts"`
	}
	if err := c.getJSON(ctx, inst.APIBaseURL+accountsPath, accessToken, &payload); err != nil {
		return nil, err
	}
	return payload.Accounts, nil
}

// ListTransactions fetches one page of transactions for an account within
// the [from, to) window.
func (c *Client) ListTransactions(ctx context.Context, inst *domain.Institution, accessToken, externalAccountID string, from, to time.Time, page, pageSize int) (*TransactionPage, error) {
	q := url.Values{}
	q.Set("fromDate", from.Format("2006-01-02"))
	q.Set("toDate", to.Format("2006-01-02"))
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))

	endpoint := inst.APIBaseURL + fmt.Sprintf(transactionsFmt, url.PathEscape(externalAccountID)) + "?" + q.Encode()

	var pageResp TransactionPage
	if err := c.getJSON(ctx, endpoint, accessToken, &pageResp); err != nil {
		return nil, err
	}
	return &pageResp, nil
}

// GetBalance fetches the current balance of one remote account.
func (c *Client) GetBalance(ctx context.Context, inst *domain.Institution, accessToken, externalAccountID string) (*BalanceInfo, error) {
	endpoint := inst.APIBaseURL + fmt.Sprintf(balanceFmt, url.PathEscape(externalAccountID))

	var balance BalanceInfo
	if err := c.getJSON(ctx, endpoint, accessToken, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// postToken executes an OAuth token-endpoint call.
func (c *Client) postToken(ctx context.Context, endpoint string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, body)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response contained no access token")
	}

	return &token, nil
}

// getJSON executes an authenticated GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("institution request failed with status %d", status)
	}
	return fmt.Errorf("institution error (status %d): %s - %s", status, errResp.Error, errResp.Description)
}
