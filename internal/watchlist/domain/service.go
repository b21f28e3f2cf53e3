package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/reelay/reelay/pkg/db/pagination"
)

// AddRequest identifies the title by row id, TMDB id, or name+year.
type AddRequest struct {
	TitleID   snowflake.ID
	TMDBID    int64
	Name      string
	Year      int
	MediaType string
}

type ListRequest struct {
	UserID snowflake.ID
	Page   pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Items []*Item `json:"items"`
}

type Service interface {
	Add(ctx context.Context, userID snowflake.ID, req AddRequest) (*Item, error)
	Remove(ctx context.Context, userID, titleID snowflake.ID) error
	ListByUser(ctx context.Context, req ListRequest) (ListResponse, error)
	// TitleSet returns the dedup keys of every listed title. Pipeline
	// input; recommendations never suggest a watchlisted title.
	TitleSet(ctx context.Context, userID snowflake.ID) (map[string]struct{}, error)
}
