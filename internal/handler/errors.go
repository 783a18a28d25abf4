package handler

import "fmt"

// ResolutionError reports a handler that cannot be located, loaded or called.
type ResolutionError struct {
	Ref    string
	Reason string
	Cause  error
}

func (e *ResolutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot resolve handler '%s': %s: %v", e.Ref, e.Reason, e.Cause)
	}
	return fmt.Sprintf("cannot resolve handler '%s': %s", e.Ref, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

func resolutionErr(ref, reason string, cause error) *ResolutionError {
	return &ResolutionError{Ref: ref, Reason: reason, Cause: cause}
}
