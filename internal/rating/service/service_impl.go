package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/rating/domain"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	"github.com/reelay/reelay/pkg/db"
	"github.com/reelay/reelay/pkg/db/pagination"
)

type Service struct {
	log    *zap.Logger
	repo   domain.Repository
	titles titledomain.Service
	genID  *snowflake.Node
	clk    clock.Clock
}

func New(
	log *zap.Logger,
	repo domain.Repository,
	titles titledomain.Service,
	genID *snowflake.Node,
	clk clock.Clock,
) domain.Service {
	return &Service{
		log:    log.Named("rating.service"),
		repo:   repo,
		titles: titles,
		genID:  genID,
		clk:    clk,
	}
}

func (s *Service) Rate(ctx context.Context, userID snowflake.ID, req domain.RateRequest) (*domain.Rating, error) {
	if err := domain.ValidateScore(req.Score); err != nil {
		return nil, err
	}

	title, err := s.resolveTitle(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	existing, err := s.repo.FindByUserAndTitle(ctx, userID, title.ID)
	if err == nil {
		existing.Score = req.Score
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		existing.Title = title
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	rating := &domain.Rating{
		ID:        s.genID.Generate(),
		UserID:    userID,
		TitleID:   title.ID,
		Score:     req.Score,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, rating); err != nil {
		// Concurrent rating of the same title; the unique user+title index
		// held, so update the winner instead.
		if db.IsDuplicateKeyErr(err) {
			winner, ferr := s.repo.FindByUserAndTitle(ctx, userID, title.ID)
			if ferr != nil {
				return nil, ferr
			}
			winner.Score = req.Score
			winner.UpdatedAt = now
			if uerr := s.repo.Update(ctx, winner); uerr != nil {
				return nil, uerr
			}
			winner.Title = title
			return winner, nil
		}
		return nil, err
	}
	rating.Title = title
	return rating, nil
}

func (s *Service) resolveTitle(ctx context.Context, req domain.RateRequest) (*titledomain.Title, error) {
	if req.TitleID != 0 {
		return s.titles.GetByID(ctx, req.TitleID)
	}
	return s.titles.ResolveOrCreate(ctx, titledomain.TitleRef{
		Name:      req.Name,
		Year:      req.Year,
		MediaType: req.MediaType,
		TMDBID:    req.TMDBID,
	})
}

func (s *Service) Delete(ctx context.Context, userID, titleID snowflake.ID) error {
	return s.repo.Delete(ctx, userID, titleID)
}

func (s *Service) ListByUser(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	size := req.Page.PageSize
	if size <= 0 {
		size = 20
	}

	ratings, err := s.repo.ListByUser(ctx, req.UserID, req.Page)
	if err != nil {
		return domain.ListResponse{}, err
	}

	info := pagination.BuildCursorPageInfo(ratings, int32(size), func(r *domain.Rating) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        r.ID.String(),
			CreatedAt: r.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			s.log.Warn("cursor encode failed", zap.Error(err))
			return ""
		}
		return token
	})
	if len(ratings) > size {
		ratings = ratings[:size]
	}

	return domain.ListResponse{
		PageInfo: *info,
		Ratings:  ratings,
	}, nil
}

func (s *Service) CountByUser(ctx context.Context, userID snowflake.ID) (int64, error) {
	return s.repo.CountByUser(ctx, userID)
}

func (s *Service) HistoryForPrompt(ctx context.Context, userID snowflake.ID) ([]domain.HistoryEntry, error) {
	ratings, err := s.repo.ListByUserScoreOrdered(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.HistoryEntry, 0, len(ratings))
	for _, r := range ratings {
		if r.Title == nil {
			return nil, fmt.Errorf("rating %d has no title row", r.ID)
		}
		entries = append(entries, domain.HistoryEntry{
			Name:  r.Title.Name,
			Year:  r.Title.Year,
			Score: r.Score,
		})
	}
	return entries, nil
}
