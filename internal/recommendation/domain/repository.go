package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	InsertBatch(ctx context.Context, batch *Batch) error
	UpdateBatch(ctx context.Context, batch *Batch) error
	// LatestBatch returns the user's newest batch regardless of status.
	LatestBatch(ctx context.Context, userID snowflake.ID) (*Batch, error)
	// LatestCompletedBatch returns the user's newest completed batch.
	LatestCompletedBatch(ctx context.Context, userID snowflake.ID) (*Batch, error)
	HasRunningBatch(ctx context.Context, userID snowflake.ID) (bool, error)

	InsertRecommendation(ctx context.Context, rec *Recommendation) error
	// ListByBatch returns a batch's rows in rank order, titles preloaded.
	ListByBatch(ctx context.Context, batchID snowflake.ID) ([]*Recommendation, error)
	// RecentKeys returns the dedup keys of the user's recommendations
	// created at or after since.
	RecentKeys(ctx context.Context, userID snowflake.ID, since time.Time) (map[string]struct{}, error)

	// Maintenance, driven by the scheduler.
	DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	FailStuckBatches(ctx context.Context, stuckSince time.Time, now time.Time) (int64, error)
}
