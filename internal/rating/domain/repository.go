package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/reelay/reelay/pkg/db/pagination"
)

type Repository interface {
	Insert(ctx context.Context, rating *Rating) error
	Update(ctx context.Context, rating *Rating) error
	Delete(ctx context.Context, userID, titleID snowflake.ID) error
	FindByUserAndTitle(ctx context.Context, userID, titleID snowflake.ID) (*Rating, error)
	// ListByUser returns up to PageSize+1 rows newest first with titles
	// preloaded; the extra row signals another page.
	ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*Rating, error)
	CountByUser(ctx context.Context, userID snowflake.ID) (int64, error)
	// ListByUserScoreOrdered returns every rating for the user, highest
	// score first, titles preloaded.
	ListByUserScoreOrdered(ctx context.Context, userID snowflake.ID) ([]*Rating, error)
}
