package acquire

import (
	"errors"
	"fmt"
)

var (
	// ErrNoViableCandidate matches every *NoViableCandidateError.
	ErrNoViableCandidate = errors.New("no viable candidate")
	// ErrNoTransport is returned by New without a primary fetcher.
	ErrNoTransport = errors.New("acquirer needs a primary fetcher")
)

// AttemptError is one failed try of a candidate over one transport.
type AttemptError struct {
	URL       string
	Stage     Stage
	Transport string
	Err       error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("%s via %s failed while %s: %v", e.URL, e.Transport, e.Stage, e.Err)
}

func (e AttemptError) Unwrap() error { return e.Err }

// NoViableCandidateError is returned when every candidate was skipped or
// failed.
type NoViableCandidateError struct {
	Attempts []AttemptError
	Skipped  int
}

func (e *NoViableCandidateError) Error() string {
	msg := fmt.Sprintf("no viable candidate: %d attempts failed, %d skipped", len(e.Attempts), e.Skipped)
	if n := len(e.Attempts); n > 0 {
		msg += "; last: " + e.Attempts[n-1].Error()
	}
	return msg
}

func (e *NoViableCandidateError) Is(target error) bool {
	return target == ErrNoViableCandidate
}

// Unwrap exposes the individual attempt errors to errors.Is and errors.As.
func (e *NoViableCandidateError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}
