package chat2data

import (
	"errors"
	"fmt"
)

// TransportError means the service could not be reached or the response could
// not be read (connection failures, timeouts, truncated bodies).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError means the service answered, but with a non-success status or a
// body missing the keys the operation needs.
type ServiceError struct {
	Op         string
	StatusCode int
	Reason     string
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: service error status=%d: %s: %s", e.Op, e.StatusCode, e.Reason, e.Body)
	}
	return fmt.Sprintf("%s: service error status=%d: %s", e.Op, e.StatusCode, e.Reason)
}

// IsRetryable classifies transport and service errors as worth another
// attempt. Anything else is left to the caller.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}
