// Package auth acquires Dataverse access tokens via the OAuth2
// client-credentials grant.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fieldline-inc/fieldline-engine/pkg/apperrors"
)

// TokenProvider supplies a bearer token for Dataverse calls.
type TokenProvider interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// ClientCredentials implements TokenProvider against the Microsoft identity
// platform. Tokens are cached until shortly before expiry; a failed
// acquisition clears the cache so a stale token is never served past its
// reported failure.
type ClientCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Resource is the Dataverse org URL; the requested scope is
	// "{Resource}/.default".
	Resource string

	// AuthorityBase overrides the login endpoint in tests.
	AuthorityBase string

	httpClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// expirySkew is subtracted from the reported token lifetime so we refresh
// before the platform starts rejecting the token.
const expirySkew = 60 * time.Second

// NewClientCredentials creates a provider for the given org.
func NewClientCredentials(tenantID, clientID, clientSecret, resource string) *ClientCredentials {
	return &ClientCredentials{
		TenantID:      tenantID,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Resource:      strings.TrimRight(resource, "/"),
		AuthorityBase: "https://login.microsoftonline.com",
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

// GetAccessToken returns a cached token when still valid, otherwise acquires
// a fresh one.
func (c *ClientCredentials) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expires) {
		return c.token, nil
	}
	c.token = ""

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.AuthorityBase, c.TenantID)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
		"scope":         {c.Resource + "/.default"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: create token request: %v", apperrors.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request failed: %v", apperrors.ErrAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %v", apperrors.ErrAuth, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode token response (status %d): %v", apperrors.ErrAuth, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		return "", fmt.Errorf("%w: %s %s (status %d)", apperrors.ErrAuth, tr.Error, tr.ErrorDesc, resp.StatusCode)
	}

	c.token = tr.AccessToken
	c.expires = tokenExpiry(tr.AccessToken, tr.ExpiresIn)
	return c.token, nil
}

// tokenExpiry derives when a token stops being usable. expires_in is
// authoritative when present; otherwise fall back to the token's own exp
// claim. The claims are not verified here - validation is the platform's
// job, we only need the timestamp.
func tokenExpiry(token string, expiresIn int) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn)*time.Second - expirySkew)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-expirySkew)
		}
	}

	// Unknown lifetime: keep it briefly rather than per-call churn.
	return time.Now().Add(5 * time.Minute)
}
