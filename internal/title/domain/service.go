package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type SearchRequest struct {
	Query     string
	MediaType string
}

type TrendingRequest struct {
	MediaType string
	Window    string
}

type Service interface {
	// ResolveOrCreate returns the catalog row for the ref, creating it when
	// missing. Safe under concurrent calls for the same identity.
	ResolveOrCreate(ctx context.Context, ref TitleRef) (*Title, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Title, error)
	// Search queries TMDB through the window limiter and folds results into
	// the catalog.
	Search(ctx context.Context, req SearchRequest) ([]*Title, error)
	// Trending serves the stored snapshot, refreshing it from TMDB when it
	// has gone stale.
	Trending(ctx context.Context, req TrendingRequest) ([]*TrendingEntry, error)
}
