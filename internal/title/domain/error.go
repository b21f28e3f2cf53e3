package domain

import "errors"

var (
	ErrNotFound         = errors.New("title not found")
	ErrInvalidMediaType = errors.New("invalid media type")
	ErrInvalidWindow    = errors.New("invalid trending window")
	ErrInvalidName      = errors.New("invalid title name")
)
