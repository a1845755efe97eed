package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a request that could not be completed or that the
// backend answered with a non-2xx status.
type TransportError struct {
	Method     string
	Path       string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports a response body that is not JSON or does not have
// the expected shape. Field is a path such as "[2].members[0].joined_at".
type ValidationError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid response from %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid response from %s: %s: %s", e.Path, e.Field, e.Reason)
}

// Describe converts an error from this package into a message suitable for
// showing to a user. Other errors are returned as-is.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.StatusCode == 0 {
			return "Could not reach the server. Check that the backend is running."
		}
		return fmt.Sprintf("The server returned an error (%d %s).", te.StatusCode, http.StatusText(te.StatusCode))
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Invalid data received from server."
	}
	return err.Error()
}
