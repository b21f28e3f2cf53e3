package domain

import "errors"

var (
	ErrInvalidScore = errors.New("invalid score")
	ErrNotFound     = errors.New("rating not found")
)
