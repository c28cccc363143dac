package outbox

import (
	"time"
)

// Delay before each replay attempt (0-indexed)
var backoffDelays = []time.Duration{
	0,                // Attempt 1: immediate
	1 * time.Minute,  // Attempt 2: +1 minute
	5 * time.Minute,  // Attempt 3: +5 minutes
	15 * time.Minute, // Attempt 4: +15 minutes
	1 * time.Hour,    // Attempt 5: +1 hour
	3 * time.Hour,    // Attempt 6: +3 hours
	8 * time.Hour,    // Attempt 7: +8 hours
	24 * time.Hour,   // Attempt 8: +24 hours
}

// CalculateBackoffDelay returns how long to wait before the given attempt
// (1-indexed). Attempts past the table reuse the last delay.
func CalculateBackoffDelay(attempt int) time.Duration {
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(backoffDelays) {
		index = len(backoffDelays) - 1
	}
	return backoffDelays[index]
}
