package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Insert(ctx context.Context, title *Title) error
	Update(ctx context.Context, title *Title) error
	FindByID(ctx context.Context, id snowflake.ID) (*Title, error)
	FindBySlug(ctx context.Context, slug string, year int, mediaType string) (*Title, error)
	FindByTMDBID(ctx context.Context, tmdbID int64, mediaType string) (*Title, error)

	// ReplaceTrending swaps the snapshot for one media type + window in a
	// single transaction.
	ReplaceTrending(ctx context.Context, mediaType, window string, entries []*TrendingEntry) error
	// ListTrending returns the snapshot ordered by position with titles
	// preloaded.
	ListTrending(ctx context.Context, mediaType, window string) ([]*TrendingEntry, error)
}
