package gateway

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
	"github.com/google/uuid"
)

const assertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenSource caches one OAuth2 access token per gateway and refreshes it
// shortly before expiry. Safe for concurrent use.
type tokenSource struct {
	cfg    ProviderConfig
	client *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(cfg ProviderConfig, client *http.Client) *tokenSource {
	return &tokenSource{cfg: cfg, client: client}
}

func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires) {
		return ts.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	if len(ts.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(ts.cfg.Scopes, " "))
	}

	switch ts.cfg.AuthStyle {
	case AuthClientCredentials:
		form.Set("client_id", ts.cfg.ClientID)
		form.Set("client_secret", ts.cfg.ClientSecret)
	case AuthSMARTAssertion:
		assertion, err := ts.buildAssertion()
		if err != nil {
			return "", fmt.Errorf("build client assertion: %w", err)
		}
		form.Set("client_assertion_type", assertionType)
		form.Set("client_assertion", assertion)
	default:
		return "", fmt.Errorf("auth style %q does not issue tokens", ts.cfg.AuthStyle)
	}

	ctx, cancel := context.WithTimeout(ctx, ts.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Provider: ts.cfg.Provider, Code: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access_token")
	}

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	ts.token = tok.AccessToken
	// Refresh a minute early so in-flight calls never carry a stale token.
	ts.expires = time.Now().Add(lifetime - time.Minute)
	return ts.token, nil
}

// buildAssertion signs a SMART Backend Services client assertion (SMART App
// Launch v2, Backend Services): iss == sub == client_id, aud == token URL,
// RS384, short lived, unique jti.
func (ts *tokenSource) buildAssertion() (string, error) {
	if ts.cfg.SigningKey == nil {
		return "", fmt.Errorf("no signing key configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": ts.cfg.ClientID,
		"sub": ts.cfg.ClientID,
		"aud": ts.cfg.TokenURL,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS384, claims)
	if ts.cfg.SigningKeyID != "" {
		token.Header["kid"] = ts.cfg.SigningKeyID
	}
	return token.SignedString(ts.cfg.SigningKey)
}
