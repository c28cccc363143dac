package models

// PaymentRequest is the body of POST /pay
type PaymentRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Email    string  `json:"email"`
}

// PaymentResponse is returned once the terminal has authorized the payment
type PaymentResponse struct {
	Status             string `json:"status"`
	EarnedUnikkoPoints int    `json:"earned_unikko_points"`
	Message            string `json:"message"`
	LoyaltySync        string `json:"loyalty_sync"`
}

// Loyalty sync states reported to the POS
const (
	LoyaltySyncQueued   = "queued"
	LoyaltySyncDeferred = "deferred"
)
