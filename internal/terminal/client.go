package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/config"
)

// Identifiers of the pop-up sale point as registered with the terminal
const (
	ProtocolVersion    = "3.0"
	ServiceID          = "1234567890AB"
	SaleID             = "MMKKO-POS-POP-UP"
	POIID              = "V400m-123456789"
	saleToAcquirerData = "tenderOption=ReceiptHandler"
	maxErrorBodySize   = 500
)

// ErrMissingResult is returned when a 2xx answer has no AmountsResp
var ErrMissingResult = errors.New("terminal response has no payment result")

// StatusError is returned when the terminal answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("terminal returned HTTP %d: %s", e.StatusCode, e.Body)
}

// PaymentResult is what the terminal actually authorized. It may differ from
// the requested amount.
type PaymentResult struct {
	TransactionID    string
	AuthorizedAmount float64
	Currency         string
}

// Client sends payment requests to the card terminal
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(cfg *config.TerminalConfig, logger *zap.Logger) *Client {
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

func (c *Client) newRequest(amount float64, currency string) saleToPOIRequest {
	return saleToPOIRequest{
		SaleToPOIRequest: paymentEnvelope{
			MessageHeader: MessageHeader{
				ProtocolVersion: ProtocolVersion,
				MessageClass:    "Service",
				MessageCategory: "Payment",
				MessageType:     "Request",
				ServiceID:       ServiceID,
				SaleID:          SaleID,
				POIID:           POIID,
			},
			PaymentRequest: PaymentRequest{
				SaleData: SaleData{
					SaleToAcquirerData: saleToAcquirerData,
					SaleTransactionID: SaleTransactionID{
						TransactionID: uuid.NewString(),
						TimeStamp:     c.now().UTC().Format(time.RFC3339Nano),
					},
				},
				PaymentTransaction: PaymentTransaction{
					AmountsReq: AmountsReq{
						Currency:        currency,
						RequestedAmount: amount,
					},
				},
			},
		},
	}
}

// Pay asks the terminal to charge amount in currency and blocks until the
// customer completes or abandons the payment on the device.
func (c *Client) Pay(ctx context.Context, amount float64, currency string) (*PaymentResult, error) {
	request := c.newRequest(amount, currency)
	transactionID := request.SaleToPOIRequest.PaymentRequest.SaleData.SaleTransactionID.TransactionID

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("terminal request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal response: %w", err)
	}

	c.logger.Info("Terminal responded",
		zap.String("transaction_id", transactionID),
		zap.Int("http_status", resp.StatusCode),
		zap.Duration("latency", time.Since(startTime)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		summary := string(body)
		if len(summary) > maxErrorBodySize {
			summary = summary[:maxErrorBodySize] + "..."
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: summary}
	}

	var parsed saleToPOIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode terminal response: %w", err)
	}

	payment := parsed.SaleToPOIResponse.PaymentResponse
	if payment == nil || payment.PaymentResult == nil || payment.PaymentResult.AmountsResp == nil {
		return nil, ErrMissingResult
	}
	amounts := payment.PaymentResult.AmountsResp

	return &PaymentResult{
		TransactionID:    transactionID,
		AuthorizedAmount: amounts.AuthorizedAmount,
		Currency:         amounts.Currency,
	}, nil
}
