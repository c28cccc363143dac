package models

import (
	"errors"
	"strings"
)

// EventCustomerUpdate is the only event type carried on the payment queue
const EventCustomerUpdate = "customer_update"

// LoyaltyEvent is the message published after a successful payment.
// Points is a delta to add to the customer's running total.
type LoyaltyEvent struct {
	Event  string `json:"event"`
	Email  string `json:"email"`
	Points int    `json:"unikko_points"`
}

var (
	ErrEmptyEmail     = errors.New("email is required")
	ErrNegativePoints = errors.New("unikko_points must not be negative")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// NewLoyaltyEvent builds a customer_update event for the given email and points
func NewLoyaltyEvent(email string, points int) LoyaltyEvent {
	return LoyaltyEvent{
		Event:  EventCustomerUpdate,
		Email:  email,
		Points: points,
	}
}

func (e LoyaltyEvent) Validate() error {
	if e.Event != EventCustomerUpdate {
		return ErrUnknownEvent
	}
	if strings.TrimSpace(e.Email) == "" {
		return ErrEmptyEmail
	}
	if e.Points < 0 {
		return ErrNegativePoints
	}
	return nil
}
