package models

import "time"

// Failure types recorded on dead-lettered messages
const (
	FailureTypeMalformed = "malformed"
	FailureTypeInvalid   = "invalid"
	FailureTypeExhausted = "retries_exhausted"
)

// DeadLetter wraps a message that will never be synced automatically.
type DeadLetter struct {
	MessageID       string    `json:"message_id"`
	Queue           string    `json:"queue"`
	OriginalMessage string    `json:"original_message"`
	Attempts        int       `json:"attempts"`
	FailureType     string    `json:"failure_type"`
	LastError       string    `json:"last_error,omitempty"`
	FailedAt        time.Time `json:"failed_at"`
}
