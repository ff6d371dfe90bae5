// Package llm holds the error contract shared by the text-generation clients.
package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingCredential is returned before any network call when a client has no API key.
var ErrMissingCredential = errors.New("llm api key is not set")

// StatusError is a non-2xx response from a generation API.
type StatusError struct {
	Provider string
	Code     int
	Type     string
	Message  string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s api error %d: %s: %s", e.Provider, e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.Code, e.Message)
}

// Retryable reports whether the same request may succeed later.
// Rate limits and server-side failures are; auth and bad requests are not.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
