package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/reelay/reelay/internal/watchlist/domain"
	"github.com/reelay/reelay/pkg/db/pagination"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, item *domain.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repo) Delete(ctx context.Context, userID, titleID snowflake.ID) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND title_id = ?", userID, titleID).
		Delete(&domain.Item{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) ListByUser(ctx context.Context, userID snowflake.ID, page pagination.Pagination) ([]*domain.Item, error) {
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

	var items []*domain.Item
	err := q.Order("created_at DESC, id DESC").
		Limit(size + 1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListAllByUser(ctx context.Context, userID snowflake.ID) ([]*domain.Item, error) {
	var items []*domain.Item
	err := r.db.WithContext(ctx).
		Preload("Title").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
