package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/observability/metrics"
	"github.com/reelay/reelay/internal/providers/tmdb"
	"github.com/reelay/reelay/internal/ratelimit"
	"github.com/reelay/reelay/internal/title/domain"
	"github.com/reelay/reelay/pkg/db"
)

// trendingPageSize bounds how many rows one snapshot keeps per media type
// and window. TMDB returns 20 per page.
const trendingPageSize = 20

type Service struct {
	log     *zap.Logger
	repo    domain.Repository
	tmdb    *tmdb.Client
	limiter ratelimit.TMDBLimiter
	recs    *config.RecsConfigHolder
	genID   *snowflake.Node
	clk     clock.Clock
	m       *metrics.Metrics

	// refreshMu keeps one trending refresh in flight per process; losers
	// serve the stale snapshot.
	refreshMu sync.Mutex
}

func New(
	log *zap.Logger,
	repo domain.Repository,
	client *tmdb.Client,
	limiter ratelimit.TMDBLimiter,
	recs *config.RecsConfigHolder,
	genID *snowflake.Node,
	clk clock.Clock,
	m *metrics.Metrics,
) domain.Service {
	return &Service{
		log:     log.Named("title.service"),
		repo:    repo,
		tmdb:    client,
		limiter: limiter,
		recs:    recs,
		genID:   genID,
		clk:     clk,
		m:       m,
	}
}

func (s *Service) ResolveOrCreate(ctx context.Context, ref domain.TitleRef) (*domain.Title, error) {
	name := strings.TrimSpace(ref.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	mediaType, err := domain.NormalizeMediaType(ref.MediaType)
	if err != nil {
		return nil, err
	}

	if ref.TMDBID > 0 {
		title, err := s.repo.FindByTMDBID(ctx, ref.TMDBID, mediaType)
		if err == nil {
			return title, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	slugged := domain.Slugify(name)
	if slugged == "" {
		return nil, domain.ErrInvalidName
	}

	title, err := s.repo.FindBySlug(ctx, slugged, ref.Year, mediaType)
	if err == nil {
		if ref.TMDBID > 0 && title.TMDBID == 0 {
			title.TMDBID = ref.TMDBID
			title.UpdatedAt = s.clk.Now()
			if err := s.repo.Update(ctx, title); err != nil {
				return nil, err
			}
		}
		return title, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := s.clk.Now()
	created := &domain.Title{
		ID:        s.genID.Generate(),
		MediaType: mediaType,
		TMDBID:    ref.TMDBID,
		Name:      name,
		Slug:      slugged,
		Year:      ref.Year,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, created); err != nil {
		// Lost the insert race; the unique slug+year+media index holds the
		// winner, so read it back.
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindBySlug(ctx, slugged, ref.Year, mediaType)
		}
		return nil, err
	}
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Title, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, req domain.SearchRequest) ([]*domain.Title, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.ErrInvalidName
	}
	mediaType, err := domain.NormalizeMediaType(req.MediaType)
	if err != nil {
		return nil, err
	}

	results, err := ratelimit.Execute(ctx, s.limiter.Limiter, "tmdb.search", func(ctx context.Context) ([]tmdb.Result, error) {
		return s.tmdb.SearchTitles(ctx, query, mediaType)
	})
	if err != nil {
		s.m.RecordProviderCall(ctx, "tmdb", "error")
		return nil, err
	}
	s.m.RecordProviderCall(ctx, "tmdb", "ok")

	titles := make([]*domain.Title, 0, len(results))
	for _, res := range results {
		title, err := s.upsertResult(ctx, res, mediaType)
		if err != nil {
			s.log.Warn("search result skipped",
				zap.String("name", res.DisplayName()),
				zap.Error(err))
			continue
		}
		titles = append(titles, title)
	}
	return titles, nil
}

func (s *Service) Trending(ctx context.Context, req domain.TrendingRequest) ([]*domain.TrendingEntry, error) {
	mediaType, err := domain.NormalizeMediaType(req.MediaType)
	if err != nil {
		return nil, err
	}
	window, err := domain.NormalizeTrendingWindow(req.Window)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListTrending(ctx, mediaType, window)
	if err != nil {
		return nil, err
	}
	ttl := s.recs.Get().TrendingTTL
	if len(entries) > 0 && s.clk.Now().Sub(entries[0].CapturedAt) < ttl {
		return entries, nil
	}

	if !s.refreshMu.TryLock() {
		// Another request is already refreshing; stale beats blocking.
		return entries, nil
	}
	defer s.refreshMu.Unlock()

	refreshed, err := s.refreshTrending(ctx, mediaType, window)
	if err != nil {
		if len(entries) > 0 {
			s.log.Warn("trending refresh failed, serving stale snapshot",
				zap.String("media_type", mediaType),
				zap.String("window", window),
				zap.Error(err))
			return entries, nil
		}
		return nil, err
	}
	return refreshed, nil
}

func (s *Service) refreshTrending(ctx context.Context, mediaType, window string) ([]*domain.TrendingEntry, error) {
	results, err := ratelimit.Execute(ctx, s.limiter.Limiter, "tmdb.trending", func(ctx context.Context) ([]tmdb.Result, error) {
		return s.tmdb.Trending(ctx, mediaType, window)
	})
	if err != nil {
		s.m.RecordProviderCall(ctx, "tmdb", "error")
		return nil, err
	}
	s.m.RecordProviderCall(ctx, "tmdb", "ok")

	if len(results) > trendingPageSize {
		results = results[:trendingPageSize]
	}

	now := s.clk.Now()
	entries := make([]*domain.TrendingEntry, 0, len(results))
	for i, res := range results {
		title, err := s.upsertResult(ctx, res, mediaType)
		if err != nil {
			s.log.Warn("trending entry skipped",
				zap.String("name", res.DisplayName()),
				zap.Error(err))
			continue
		}
		if title.PosterPath == "" || len(title.Genres) == 0 {
			s.enrichFromDetails(ctx, title, mediaType)
		}
		entries = append(entries, &domain.TrendingEntry{
			ID:         s.genID.Generate(),
			MediaType:  mediaType,
			Window:     window,
			Position:   i + 1,
			TitleID:    title.ID,
			CapturedAt: now,
		})
	}

	if err := s.repo.ReplaceTrending(ctx, mediaType, window, entries); err != nil {
		return nil, err
	}
	return s.repo.ListTrending(ctx, mediaType, window)
}

// enrichFromDetails fills poster and genres from the details endpoint.
// Failures leave the title as-is; the next refresh tries again.
func (s *Service) enrichFromDetails(ctx context.Context, title *domain.Title, mediaType string) {
	if title.TMDBID == 0 {
		return
	}
	details, err := ratelimit.Execute(ctx, s.limiter.Limiter, "tmdb.details", func(ctx context.Context) (*tmdb.Details, error) {
		return s.tmdb.Details(ctx, mediaType, title.TMDBID)
	})
	if err != nil {
		s.m.RecordProviderCall(ctx, "tmdb", "error")
		s.log.Debug("details lookup failed",
			zap.Int64("tmdb_id", title.TMDBID),
			zap.Error(err))
		return
	}
	s.m.RecordProviderCall(ctx, "tmdb", "ok")

	changed := false
	if title.PosterPath == "" && details.PosterPath != "" {
		title.PosterPath = details.PosterPath
		changed = true
	}
	if len(title.Genres) == 0 && len(details.Genres) > 0 {
		names := make([]string, 0, len(details.Genres))
		for _, g := range details.Genres {
			names = append(names, g.Name)
		}
		title.Genres = names
		changed = true
	}
	if title.Overview == "" && details.Overview != "" {
		title.Overview = details.Overview
		changed = true
	}
	if changed {
		title.UpdatedAt = s.clk.Now()
		if err := s.repo.Update(ctx, title); err != nil {
			s.log.Warn("title enrich update failed",
				zap.Int64("tmdb_id", title.TMDBID),
				zap.Error(err))
		}
	}
}

func (s *Service) upsertResult(ctx context.Context, res tmdb.Result, fallbackMedia string) (*domain.Title, error) {
	name := strings.TrimSpace(res.DisplayName())
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	mediaType := fallbackMedia
	if res.MediaType != "" {
		if mt, err := domain.NormalizeMediaType(res.MediaType); err == nil {
			mediaType = mt
		}
	}

	title, err := s.ResolveOrCreate(ctx, domain.TitleRef{
		Name:      name,
		Year:      res.ReleaseYear(),
		MediaType: mediaType,
		TMDBID:    res.ID,
	})
	if err != nil {
		return nil, err
	}

	changed := false
	if title.PosterPath == "" && res.PosterPath != "" {
		title.PosterPath = res.PosterPath
		changed = true
	}
	if title.Overview == "" && res.Overview != "" {
		title.Overview = res.Overview
		changed = true
	}
	if title.OriginalLanguage == "" && res.OriginalLanguage != "" {
		title.OriginalLanguage = res.OriginalLanguage
		changed = true
	}
	if title.VoteAverage == 0 && res.VoteAverage > 0 {
		title.VoteAverage = res.VoteAverage
		changed = true
	}
	if changed {
		title.UpdatedAt = s.clk.Now()
		if err := s.repo.Update(ctx, title); err != nil {
			return nil, err
		}
	}
	return title, nil
}
