package orchestrator

import "fmt"

// ProtocolError reports malformed structured output from the model. It is
// recovered locally by re-issuing the request with the error embedded,
// bounded by a retry cap.
type ProtocolError struct {
	Attempt int
	Cause   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed model output (attempt %d): %v", e.Attempt, e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// FatalError aborts a run: the attempt budget is exhausted or the recovery
// advisor could not resolve a valid target. The last underlying error is
// preserved.
type FatalError struct {
	Reason string
	Last   error
}

func (e *FatalError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Last)
	}
	return e.Reason
}

func (e *FatalError) Unwrap() error { return e.Last }
