package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/reelay/reelay/pkg/db/pagination"
)

// RateRequest identifies the title by row id, TMDB id, or name+year.
type RateRequest struct {
	TitleID   snowflake.ID
	TMDBID    int64
	Name      string
	Year      int
	MediaType string
	Score     float64
}

type ListRequest struct {
	UserID snowflake.ID
	Page   pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Ratings []*Rating `json:"ratings"`
}

// HistoryEntry is one rated title as fed into the recommendation prompt.
type HistoryEntry struct {
	Name  string
	Year  int
	Score float64
}

type Service interface {
	Rate(ctx context.Context, userID snowflake.ID, req RateRequest) (*Rating, error)
	Delete(ctx context.Context, userID, titleID snowflake.ID) error
	ListByUser(ctx context.Context, req ListRequest) (ListResponse, error)
	CountByUser(ctx context.Context, userID snowflake.ID) (int64, error)
	// HistoryForPrompt returns the user's ratings ordered by score, best
	// first. Read-only pipeline input.
	HistoryForPrompt(ctx context.Context, userID snowflake.ID) ([]HistoryEntry, error)
}
