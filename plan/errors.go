package plan

import "fmt"

// ValidationError reports a malformed plan document: a schema violation,
// a duplicate or reserved step name, or a dangling transition target.
// It is fatal at load time and never retried.
type ValidationError struct {
	// Path locates the offending field, e.g. "steps/2/transitions/success".
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid plan at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}
