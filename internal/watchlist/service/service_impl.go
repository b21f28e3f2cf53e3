package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	"github.com/reelay/reelay/internal/watchlist/domain"
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
		log:    log.Named("watchlist.service"),
		repo:   repo,
		titles: titles,
		genID:  genID,
		clk:    clk,
	}
}

func (s *Service) Add(ctx context.Context, userID snowflake.ID, req domain.AddRequest) (*domain.Item, error) {
	title, err := s.resolveTitle(ctx, req)
	if err != nil {
		return nil, err
	}

	item := &domain.Item{
		ID:        s.genID.Generate(),
		UserID:    userID,
		TitleID:   title.ID,
		CreatedAt: s.clk.Now(),
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyListed
		}
		return nil, err
	}
	item.Title = title
	return item, nil
}

func (s *Service) resolveTitle(ctx context.Context, req domain.AddRequest) (*titledomain.Title, error) {
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

func (s *Service) Remove(ctx context.Context, userID, titleID snowflake.ID) error {
	return s.repo.Delete(ctx, userID, titleID)
}

func (s *Service) ListByUser(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	size := req.Page.PageSize
	if size <= 0 {
		size = 20
	}

	items, err := s.repo.ListByUser(ctx, req.UserID, req.Page)
	if err != nil {
		return domain.ListResponse{}, err
	}

	info := pagination.BuildCursorPageInfo(items, int32(size), func(it *domain.Item) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        it.ID.String(),
			CreatedAt: it.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			s.log.Warn("cursor encode failed", zap.Error(err))
			return ""
		}
		return token
	})
	if len(items) > size {
		items = items[:size]
	}

	return domain.ListResponse{
		PageInfo: *info,
		Items:    items,
	}, nil
}

func (s *Service) TitleSet(ctx context.Context, userID snowflake.ID) (map[string]struct{}, error) {
	items, err := s.repo.ListAllByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Title == nil {
			continue
		}
		set[it.Title.Key()] = struct{}{}
	}
	return set, nil
}
