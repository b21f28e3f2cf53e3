package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientRatings = errors.New("not enough ratings")
	ErrAlreadyInProgress   = errors.New("generation already in progress")
	ErrUpstreamUnavailable = errors.New("recommendation provider unavailable")
	ErrSchemaViolation     = errors.New("provider response violated the schema")
	ErrBatchNotFound       = errors.New("batch not found")
)

// InsufficientRatingsError carries the user's current count so the API can
// tell them how far they are from the threshold.
type InsufficientRatingsError struct {
	Current  int
	Required int
}

func (e *InsufficientRatingsError) Error() string {
	return fmt.Sprintf("not enough ratings: have %d, need %d", e.Current, e.Required)
}

func (e *InsufficientRatingsError) Unwrap() error {
	return ErrInsufficientRatings
}
