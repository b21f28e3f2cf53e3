package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/reelay/reelay/internal/recommendation/domain"
	titledomain "github.com/reelay/reelay/internal/title/domain"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) InsertBatch(ctx context.Context, batch *domain.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repo) UpdateBatch(ctx context.Context, batch *domain.Batch) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

func (r *repo) LatestBatch(ctx context.Context, userID snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) LatestCompletedBatch(ctx context.Context, userID snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.BatchStatusCompleted).
		Order("created_at DESC, id DESC").
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repo) HasRunningBatch(ctx context.Context, userID snowflake.ID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("user_id = ? AND status = ?", userID, domain.BatchStatusRunning).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) InsertRecommendation(ctx context.Context, rec *domain.Recommendation) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *repo) ListByBatch(ctx context.Context, batchID snowflake.ID) ([]*domain.Recommendation, error) {
	var recs []*domain.Recommendation
	err := r.db.WithContext(ctx).
		Preload("Title").
		Where("batch_id = ?", batchID).
		Order("rank ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *repo) RecentKeys(ctx context.Context, userID snowflake.ID, since time.Time) (map[string]struct{}, error) {
	var rows []struct {
		Name string
		Year int
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Recommendation{}).
		Select("name", "year").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		keys[titledomain.Key(row.Name, row.Year)] = struct{}{}
	}
	return keys, nil
}

func (r *repo) DeleteBatchesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Each user's newest completed batch survives any cutoff; it is
		// the set ListActive serves.
		activeSet := func() *gorm.DB {
			return tx.Model(&domain.Batch{}).
				Select("MAX(id)").
				Where("status = ?", domain.BatchStatusCompleted).
				Group("user_id")
		}
		expired := tx.Model(&domain.Batch{}).
			Select("id").
			Where("created_at < ?", cutoff).
			Where("id NOT IN (?)", activeSet())
		if err := tx.Where("batch_id IN (?)", expired).Delete(&domain.Recommendation{}).Error; err != nil {
			return err
		}
		res := tx.Where("created_at < ? AND id NOT IN (?)", cutoff, activeSet()).Delete(&domain.Batch{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// FailStuckBatches flips running batches that predate stuckSince to failed.
// Crash recovery; the lock that guarded them has long expired.
func (r *repo) FailStuckBatches(ctx context.Context, stuckSince time.Time, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("status = ? AND created_at < ?", domain.BatchStatusRunning, stuckSince).
		Updates(map[string]any{
			"status":       domain.BatchStatusFailed,
			"error_kind":   domain.ErrorKindInternal,
			"completed_at": now,
		})
	return res.RowsAffected, res.Error
}
