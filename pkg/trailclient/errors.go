package trailclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrValidation     = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	// ErrTransient marks failures worth retrying: 5xx responses and transport
	// errors.
	ErrTransient = errors.New("transient failure")
)

// APIError is a non-2xx response. errors.Is matches it against the sentinel
// for its status class.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrAuthentication
	case e.Status == http.StatusForbidden:
		return ErrAuthorization
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusTooManyRequests, e.Status >= http.StatusInternalServerError:
		return ErrTransient
	case e.Status >= http.StatusBadRequest:
		return ErrValidation
	default:
		return nil
	}
}

// IsTransient reports whether a retry or a later poll may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
