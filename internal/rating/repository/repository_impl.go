package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/reelay/reelay/internal/rating/domain"
	"github.com/reelay/reelay/pkg/db/pagination"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, rating *domain.Rating) error {
	return r.db.WithContext(ctx).Create(rating).Error
}

func (r *repo) Update(ctx context.Context, rating *domain.Rating) error {
	return r.db.WithContext(ctx).Save(rating).Error
}

func (r *repo) Delete(ctx context.Context, userID, titleID snowflake.ID) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND title_id = ?", userID, titleID).
		Delete(&domain.Rating{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) FindByUserAndTitle(ctx context.Context, userID, titleID snowflake.ID) (*domain.Rating, error) {
	var rating domain.Rating
	err := r.db.WithContext(ctx).
		First(&rating, "user_id = ? AND title_id = ?", userID, titleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rating, nil
}

func (r *repo) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*domain.Rating, error) {
	size := page.PageSize
	if size <= 0 {
		size = 20
	}

	q := r.db.WithContext(ctx).
		Preload("Title").
		Where("user_id = ?", userID)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, err
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var ratings []*domain.Rating
	err := q.Order("created_at DESC, id DESC").
		Limit(size + 1).
		Find(&ratings).Error
	if err != nil {
		return nil, err
	}
	return ratings, nil
}

func (r *repo) CountByUser(ctx context.Context, userID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Rating{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListByUserScoreOrdered(ctx context.Context, userID snowflake.ID) ([]*domain.Rating, error) {
	var ratings []*domain.Rating
	err := r.db.WithContext(ctx).
		Preload("Title").
		Where("user_id = ?", userID).
		Order("score DESC, created_at DESC").
		Find(&ratings).Error
	if err != nil {
		return nil, err
	}
	return ratings, nil
}
