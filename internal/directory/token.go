package directory

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

	"golang.org/x/sync/singleflight"
)

// tokens are refreshed this long before the server-side expiry
const tokenExpiryMargin = 60 * time.Second

// tokenSource caches a client-credentials access token for the lifetime of the Client
type tokenSource struct {
	authURL      string
	clientID     string
	clientSecret string
	scope        string
	httpClient   *http.Client
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a cached token or fetches a new one. Concurrent callers share one fetch.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && ts.now().Before(ts.expiresAt) {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	v, err, _ := ts.group.Do("token", func() (interface{}, error) {
		return ts.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the API answered 401
func (ts *tokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *tokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
	}
	if ts.scope != "" {
		form.Set("scope", ts.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newAPIError(http.MethodPost, ts.authURL, resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response did not contain an access token")
	}

	expiresAt := ts.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin)
	ts.mu.Lock()
	ts.token = tr.AccessToken
	ts.expiresAt = expiresAt
	ts.mu.Unlock()

	return tr.AccessToken, nil
}
