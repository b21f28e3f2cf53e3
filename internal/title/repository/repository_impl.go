package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/reelay/reelay/internal/title/domain"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, title *domain.Title) error {
	return r.db.WithContext(ctx).Create(title).Error
}

func (r *repo) Update(ctx context.Context, title *domain.Title) error {
	return r.db.WithContext(ctx).Save(title).Error
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.Title, error) {
	var title domain.Title
	err := r.db.WithContext(ctx).First(&title, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &title, nil
}

func (r *repo) FindBySlug(ctx context.Context, slug string, year int, mediaType string) (*domain.Title, error) {
	var title domain.Title
	err := r.db.WithContext(ctx).
		First(&title, "slug = ? AND year = ? AND media_type = ?", slug, year, mediaType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &title, nil
}

func (r *repo) FindByTMDBID(ctx context.Context, tmdbID int64, mediaType string) (*domain.Title, error) {
	var title domain.Title
	err := r.db.WithContext(ctx).
		First(&title, "tmdb_id = ? AND media_type = ?", tmdbID, mediaType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &title, nil
}

func (r *repo) ReplaceTrending(ctx context.Context, mediaType, window string, entries []*domain.TrendingEntry) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("media_type = ? AND time_window = ?", mediaType, window).
			Delete(&domain.TrendingEntry{}).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		return tx.Create(entries).Error
	})
}

func (r *repo) ListTrending(ctx context.Context, mediaType, window string) ([]*domain.TrendingEntry, error) {
	var entries []*domain.TrendingEntry
	err := r.db.WithContext(ctx).
		Preload("Title").
		Where("media_type = ? AND time_window = ?", mediaType, window).
		Order("position ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
