package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/reelay/reelay/pkg/db/pagination"
)

type Repository interface {
	Insert(ctx context.Context, item *Item) error
	Delete(ctx context.Context, userID, titleID snowflake.ID) error
	// ListByUser returns up to PageSize+1 rows newest first with titles
	// preloaded.
	ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*Item, error)
	// ListAllByUser returns the whole list with titles preloaded.
	ListAllByUser(ctx context.Context, userID snowflake.ID) ([]*Item, error)
}
