package loyalty

import "fmt"

// ValidationError reports input that can never produce a valid result,
// as opposed to infrastructure failures that may succeed on retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
