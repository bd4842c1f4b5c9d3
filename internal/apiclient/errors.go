package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError indicates the server answered with a non-success status.
// Transport failures and undecodable bodies are reported as ordinary
// wrapped errors instead.
type StatusError struct {
	URL        string
	Body       string // first bytes of the response body, for diagnostics
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsRejection checks whether an error is a server rejection of any status.
func IsRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsStatus checks whether an error is a server rejection with the given
// status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// IsNotFound checks for a 404 rejection.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsUnauthorized checks for a 401 rejection.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}
