package domain

import "errors"

var (
	ErrNotFound      = errors.New("watchlist item not found")
	ErrAlreadyListed = errors.New("title already on watchlist")
)
