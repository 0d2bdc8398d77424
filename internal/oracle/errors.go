package oracle

import (
	"errors"
	"fmt"
)

// HTTPError is returned when the oracle answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d for URL %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Body)
}

// ExternalError wraps any failed oracle call: transport errors, timeouts,
// non-2xx statuses and unparsable bodies.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *ExternalError) Unwrap() error { return e.Err }

// IsExternal reports whether err came from a failed oracle call.
func IsExternal(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee)
}

func external(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Op: op, Err: err}
}
