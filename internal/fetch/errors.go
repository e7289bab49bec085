package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure for the retry policy and run statistics.
type Kind int

const (
	// KindTransient covers timeouts, 5xx and 429 responses. Retried.
	KindTransient Kind = iota
	// KindPermanent covers malformed targets and other 4xx responses.
	// Never retried.
	KindPermanent
	// KindRobots marks targets disallowed by robots policy. Never retried
	// and never requested.
	KindRobots
)

// Sentinel conditions callers can test with errors.Is.
var (
	ErrRobotsDisallowed = errors.New("disallowed by robots policy")
	ErrMalformedURL     = errors.New("malformed target URL")
)

// Error is the failure type returned by the Fetcher.
type Error struct {
	URL        string
	Kind       Kind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a fetch failure that was (or would be)
// retried.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

// IsRobotsDenied reports whether err means the target may never be fetched
// under the current robots policy.
func IsRobotsDenied(err error) bool {
	return errors.Is(err, ErrRobotsDisallowed)
}
