package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/models"
	"github.com/marminbh/popup-pos/internal/repositories"
	"github.com/marminbh/popup-pos/internal/terminal"
)

type fakeTerminal struct {
	result   *terminal.PaymentResult
	err      error
	currency string
}

func (f *fakeTerminal) Pay(_ context.Context, amount float64, currency string) (*terminal.PaymentResult, error) {
	f.currency = currency
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &terminal.PaymentResult{TransactionID: "txn-1", AuthorizedAmount: amount, Currency: currency}, nil
}

type fakePublisher struct {
	err    error
	events []models.LoyaltyEvent
}

func (f *fakePublisher) Publish(_ context.Context, email string, points int) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, models.NewLoyaltyEvent(email, points))
	return nil
}

type fakeOutbox struct {
	err     error
	pending []models.LoyaltyEvent
}

func (f *fakeOutbox) Enqueue(_ context.Context, email string, points int) (*models.PendingLoyaltyEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pending = append(f.pending, models.NewLoyaltyEvent(email, points))
	return &models.PendingLoyaltyEvent{Email: email, Points: points}, nil
}

type paymentFixture struct {
	app       *fiber.App
	terminal  *fakeTerminal
	publisher *fakePublisher
	outbox    *fakeOutbox
}

func newPaymentFixture() *paymentFixture {
	f := &paymentFixture{
		app:       fiber.New(),
		terminal:  &fakeTerminal{},
		publisher: &fakePublisher{},
		outbox:    &fakeOutbox{},
	}
	h := NewPaymentHandler(f.terminal, f.publisher, f.outbox, zap.NewNop())
	f.app.Post("/pay", h.Pay)
	return f
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	return resp.StatusCode, decoded
}

func TestPay_EarnsPointsAndQueuesSync(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		points   float64
		currency string
	}{
		{"euro", `{"amount":100,"currency":"EUR","email":"a@b.com"}`, 100, "EUR"},
		{"krona", `{"amount":100,"currency":"SEK","email":"a@b.com"}`, 10, "SEK"},
		{"lowercase currency", `{"amount":59.99,"currency":"eur","email":"a@b.com"}`, 59, "EUR"},
		{"unsupported currency", `{"amount":100,"currency":"JPY","email":"a@b.com"}`, 0, "JPY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture()
			status, body := doJSON(t, f.app, http.MethodPost, "/pay", tt.body)

			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "success", body["status"])
			assert.Equal(t, tt.points, body["earned_unikko_points"])
			assert.Equal(t, "Payment processed. Loyalty sync will follow shortly.", body["message"])
			assert.Equal(t, models.LoyaltySyncQueued, body["loyalty_sync"])
			assert.Equal(t, tt.currency, f.terminal.currency)

			require.Len(t, f.publisher.events, 1)
			assert.Equal(t, "a@b.com", f.publisher.events[0].Email)
			assert.Equal(t, int(tt.points), f.publisher.events[0].Points)
		})
	}
}

func TestPay_UsesAuthorizedAmount(t *testing.T) {
	f := newPaymentFixture()
	f.terminal.result = &terminal.PaymentResult{AuthorizedAmount: 40, Currency: "EUR"}

	status, body := doJSON(t, f.app, http.MethodPost, "/pay", `{"amount":100,"currency":"EUR","email":"a@b.com"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(40), body["earned_unikko_points"])
}

func TestPay_RejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"amount":`},
		{"zero amount", `{"amount":0,"currency":"EUR","email":"a@b.com"}`},
		{"negative amount", `{"amount":-5,"currency":"EUR","email":"a@b.com"}`},
		{"oversized amount", `{"amount":1e19,"currency":"EUR","email":"a@b.com"}`},
		{"missing currency", `{"amount":5,"email":"a@b.com"}`},
		{"missing email", `{"amount":5,"currency":"EUR"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymentFixture()
			status, body := doJSON(t, f.app, http.MethodPost, "/pay", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["detail"])
			assert.Empty(t, f.terminal.currency, "terminal is not called for invalid requests")
		})
	}
}

func TestPay_TerminalFailureIs500(t *testing.T) {
	f := newPaymentFixture()
	f.terminal.err = &terminal.StatusError{StatusCode: 502, Body: "offline"}

	status, body := doJSON(t, f.app, http.MethodPost, "/pay", `{"amount":10,"currency":"EUR","email":"a@b.com"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body["detail"], "terminal returned HTTP 502")
	assert.Empty(t, f.publisher.events)
}

func TestPay_OversizedAuthorizationIsNotAwarded(t *testing.T) {
	f := newPaymentFixture()
	f.terminal.result = &terminal.PaymentResult{TransactionID: "txn-1", AuthorizedAmount: 1e300, Currency: "EUR"}

	status, body := doJSON(t, f.app, http.MethodPost, "/pay", `{"amount":10,"currency":"EUR","email":"a@b.com"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body["detail"], "too large")
	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.outbox.pending)
}

func TestPay_DefersSyncWhenPublishFails(t *testing.T) {
	f := newPaymentFixture()
	f.publisher.err = errors.New("broker down")

	status, body := doJSON(t, f.app, http.MethodPost, "/pay", `{"amount":100,"currency":"EUR","email":"a@b.com"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(100), body["earned_unikko_points"])
	assert.Equal(t, models.LoyaltySyncDeferred, body["loyalty_sync"])

	require.Len(t, f.outbox.pending, 1)
	assert.Equal(t, 100, f.outbox.pending[0].Points)
}

func TestPay_FailsWhenEventCannotBeKept(t *testing.T) {
	f := newPaymentFixture()
	f.publisher.err = errors.New("broker down")
	f.outbox.err = errors.New("database down")

	status, body := doJSON(t, f.app, http.MethodPost, "/pay", `{"amount":100,"currency":"EUR","email":"a@b.com"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body["detail"], "broker down")
}

type brokerStatus bool

func (b brokerStatus) IsHealthy() bool { return bool(b) }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		dbErr  error
		broker BrokerHealth
		want   int
	}{
		{"all healthy", nil, brokerStatus(true), http.StatusOK},
		{"database down", errors.New("connection refused"), brokerStatus(true), http.StatusServiceUnavailable},
		{"broker down", nil, brokerStatus(false), http.StatusServiceUnavailable},
		{"no broker", nil, nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HealthHandler{
				CheckDatabase: func(context.Context) error { return tt.dbErr },
				Broker:        tt.broker,
			}
			app := fiber.New()
			app.Get("/health", h.HealthCheck)

			status, body := doJSON(t, app, http.MethodGet, "/health", "")
			assert.Equal(t, tt.want, status)
			assert.Contains(t, body, "services")
		})
	}
}

func TestGetSyncAttempts(t *testing.T) {
	repo := repositories.NewMemorySyncAttemptRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	for i, email := range []string{"a@b.com", "c@d.com", "a@b.com"} {
		require.NoError(t, repo.Record(ctx, &models.SyncAttemptLog{
			MessageID:  "m" + string(rune('1'+i)),
			Email:      email,
			Points:     10,
			Status:     models.SyncStatusSucceeded,
			StartedAt:  now,
			FinishedAt: now,
		}))
	}

	app := fiber.New()
	app.Get("/api/v1/sync-attempts", NewAttemptsHandler(repo, zap.NewNop()).GetSyncAttempts)

	status, body := doJSON(t, app, http.MethodGet, "/api/v1/sync-attempts?email=a@b.com&limit=1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["has_more"])
	attempts := body["attempts"].([]interface{})
	require.Len(t, attempts, 1)
	assert.Equal(t, "m3", attempts[0].(map[string]interface{})["message_id"])

	status, body = doJSON(t, app, http.MethodGet, "/api/v1/sync-attempts?email=a@b.com&limit=1&offset=1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["has_more"])

	status, _ = doJSON(t, app, http.MethodGet, "/api/v1/sync-attempts?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
