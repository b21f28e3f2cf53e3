package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GenerateBulk runs the two-stage pipeline for the user and stores the
	// outcome as a batch. Exactly one run per user may be in flight.
	GenerateBulk(ctx context.Context, userID snowflake.ID, filters FilterSpec) (*BulkResult, error)
	// Status reports readiness and the latest batch. No side effects.
	Status(ctx context.Context, userID snowflake.ID) (*Status, error)
	// ListActive returns the newest completed batch's rows in rank order.
	ListActive(ctx context.Context, userID snowflake.ID) ([]*Recommendation, error)
}
