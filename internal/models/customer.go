package models

// CustomerRecord is the loyalty view of a customer held by the Customer Directory.
// LoyaltyTier is always derived from TotalPoints and written together with it.
type CustomerRecord struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	TotalPoints int    `json:"total_unikko_points"`
	LoyaltyTier string `json:"loyalty_level"`
}
