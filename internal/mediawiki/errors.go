package mediawiki

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissing is returned when a page, entity or property does not exist
	ErrMissing = errors.New("does not exist")

	// ErrNotRedirect is returned when a redirect target is requested for a
	// page that is not a redirect
	ErrNotRedirect = errors.New("not a redirect")

	// ErrAPI matches every *APIError
	ErrAPI = errors.New("api error")
)

// APIError is an error object returned by the Action API
type APIError struct {
	Code       string        `json:"code"`
	Info       string        `json:"info"`
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Info)
}

// Is lets errors.Is(err, ErrAPI) match any API error
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// StatusError is returned for non-2xx HTTP responses
type StatusError struct {
	Code       int
	Status     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}
