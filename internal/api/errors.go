package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is wrapped by every 401 response. Callers treat it as
	// "the session is gone" and route back to login.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnexpectedFormat means a list endpoint answered with something
	// other than a JSON array.
	ErrUnexpectedFormat = errors.New("unexpected response format")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	// Message is the backend's "error" field when it sent one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
	}
	return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// BackendMessage returns the backend's own explanation of err, if any.
func BackendMessage(err error) (string, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message, true
	}
	return "", false
}
