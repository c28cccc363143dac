package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/models"
)

const (
	contentType      = "application/vnd.api+json"
	customersType    = "customers"
	maxErrorBodySize = 4096
)

// Metadata keys holding the loyalty state on a customer
const (
	metadataTotalPoints  = "total_unikko_points"
	metadataLoyaltyLevel = "loyalty_level"
)

// ErrInvalidMetadata is returned when a stored loyalty total cannot be read
var ErrInvalidMetadata = errors.New("invalid loyalty metadata")

// APIError is returned for any non-2xx answer from the directory or its auth server
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func newAPIError(method, url string, status int, body []byte) *APIError {
	summary := string(body)
	if len(summary) > 500 {
		summary = summary[:500] + "..."
	}
	return &APIError{Method: method, URL: url, StatusCode: status, Body: summary}
}

// IsUnauthorized reports whether err is a 401 from the directory
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Client talks to a Commerce Layer style JSON:API customers resource.
// One Client is meant to live for the whole process; it caches its token.
type Client struct {
	apiURL     string
	httpClient *http.Client
	tokens     *tokenSource
	logger     *zap.Logger
}

func NewClient(cfg *config.DirectoryConfig, logger *zap.Logger) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		httpClient: httpClient,
		tokens: &tokenSource{
			authURL:      cfg.AuthURL,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			scope:        cfg.Scope,
			httpClient:   httpClient,
			now:          time.Now,
		},
		logger: logger,
	}
}

type customerDocument struct {
	Data customerResource `json:"data"`
}

type customerListDocument struct {
	Data []customerResource `json:"data"`
}

type customerResource struct {
	ID         string             `json:"id,omitempty"`
	Type       string             `json:"type"`
	Attributes customerAttributes `json:"attributes"`
}

type customerAttributes struct {
	Email    string                 `json:"email,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (r customerResource) record() (*models.CustomerRecord, error) {
	total, err := metadataInt(r.Attributes.Metadata[metadataTotalPoints])
	if err != nil {
		return nil, fmt.Errorf("customer %s: %w", r.ID, err)
	}
	return &models.CustomerRecord{
		ID:          r.ID,
		Email:       r.Attributes.Email,
		TotalPoints: total,
		LoyaltyTier: metadataString(r.Attributes.Metadata[metadataLoyaltyLevel]),
	}, nil
}

// metadataInt accepts the numeric forms a JSON metadata value may take.
// An absent value is 0; anything else that is not a whole number is an error
// so a stored total is never silently replaced.
func metadataInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %v", ErrInvalidMetadata, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil || i > math.MaxInt32 || i < math.MinInt32 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMetadata, n.String())
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil || i > math.MaxInt32 || i < math.MinInt32 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidMetadata, n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: unexpected type %T", ErrInvalidMetadata, v)
	}
}

func metadataString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func loyaltyMetadata(totalPoints int, tier string) map[string]interface{} {
	return map[string]interface{}{
		metadataTotalPoints:  totalPoints,
		metadataLoyaltyLevel: tier,
	}
}

// FindByEmail returns the first customer whose email equals email exactly, or nil
func (c *Client) FindByEmail(ctx context.Context, email string) (*models.CustomerRecord, error) {
	query := url.Values{"filter[q][email_eq]": {email}}

	var doc customerListDocument
	if err := c.do(ctx, http.MethodGet, "/api/customers", query, nil, &doc); err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 {
		return nil, nil
	}
	if len(doc.Data) > 1 {
		c.logger.Warn("Multiple customers share an email, using the first",
			zap.String("email", email),
			zap.Int("matches", len(doc.Data)),
		)
	}
	return doc.Data[0].record()
}

func (c *Client) Get(ctx context.Context, id string) (*models.CustomerRecord, error) {
	var doc customerDocument
	if err := c.do(ctx, http.MethodGet, "/api/customers/"+url.PathEscape(id), nil, nil, &doc); err != nil {
		return nil, err
	}
	return doc.Data.record()
}

func (c *Client) Create(ctx context.Context, email string, totalPoints int, tier string) (*models.CustomerRecord, error) {
	payload := customerDocument{
		Data: customerResource{
			Type: customersType,
			Attributes: customerAttributes{
				Email:    email,
				Metadata: loyaltyMetadata(totalPoints, tier),
			},
		},
	}

	var doc customerDocument
	if err := c.do(ctx, http.MethodPost, "/api/customers", nil, payload, &doc); err != nil {
		return nil, err
	}
	return doc.Data.record()
}

// UpdatePoints patches total points and loyalty level in one request
func (c *Client) UpdatePoints(ctx context.Context, id string, totalPoints int, tier string) (*models.CustomerRecord, error) {
	payload := customerDocument{
		Data: customerResource{
			ID:   id,
			Type: customersType,
			Attributes: customerAttributes{
				Metadata: loyaltyMetadata(totalPoints, tier),
			},
		},
	}

	var doc customerDocument
	if err := c.do(ctx, http.MethodPatch, "/api/customers/"+url.PathEscape(id), nil, payload, &doc); err != nil {
		return nil, err
	}
	return doc.Data.record()
}

// do sends an authorized request, retrying once with a fresh token on 401
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	err := c.send(ctx, method, path, query, payload, out)
	if IsUnauthorized(err) {
		c.logger.Info("Directory token rejected, refreshing",
			zap.String("method", method),
			zap.String("path", path),
		)
		c.tokens.Invalidate()
		err = c.send(ctx, method, path, query, payload, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain directory token: %w", err)
	}

	target := c.apiURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", contentType)
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Directory request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(startTime)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return newAPIError(method, target, resp.StatusCode, errBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
