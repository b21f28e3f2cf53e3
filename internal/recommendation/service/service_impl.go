package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/observability/metrics"
	"github.com/reelay/reelay/internal/providers/genai"
	"github.com/reelay/reelay/internal/providers/search"
	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	"github.com/reelay/reelay/internal/ratelimit"
	"github.com/reelay/reelay/internal/recommendation/domain"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	watchlistdomain "github.com/reelay/reelay/internal/watchlist/domain"
	"github.com/reelay/reelay/pkg/db"
)

type Service struct {
	log       *zap.Logger
	repo      domain.Repository
	ratings   ratingdomain.Service
	watchlist watchlistdomain.Service
	titles    titledomain.Service
	search    *search.Client
	genai     *genai.Client
	gate      ratelimit.Gate
	recs      *config.RecsConfigHolder
	cfg       config.Config
	genID     *snowflake.Node
	clk       clock.Clock
	m         *metrics.Metrics
}

func New(
	log *zap.Logger,
	repo domain.Repository,
	ratings ratingdomain.Service,
	watchlist watchlistdomain.Service,
	titles titledomain.Service,
	searchClient *search.Client,
	genaiClient *genai.Client,
	gate ratelimit.Gate,
	recs *config.RecsConfigHolder,
	cfg config.Config,
	genID *snowflake.Node,
	clk clock.Clock,
	m *metrics.Metrics,
) domain.Service {
	return &Service{
		log:       log.Named("recommendation.service"),
		repo:      repo,
		ratings:   ratings,
		watchlist: watchlist,
		titles:    titles,
		search:    searchClient,
		genai:     genaiClient,
		gate:      gate,
		recs:      recs,
		cfg:       cfg,
		genID:     genID,
		clk:       clk,
		m:         m,
	}
}

func inFlightKey(userID snowflake.ID) string {
	return fmt.Sprintf("recs:inflight:%d", userID)
}

func (s *Service) GenerateBulk(ctx context.Context, userID snowflake.ID, filters domain.FilterSpec) (*domain.BulkResult, error) {
	cfg := s.recs.Get()

	count, err := s.ratings.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count < int64(cfg.MinRatings) {
		return nil, &domain.InsufficientRatingsError{Current: int(count), Required: cfg.MinRatings}
	}
	filters = filters.Normalize(cfg.DefaultCount, cfg.MaxCount)

	lockKey := inFlightKey(userID)
	token, ok, err := s.gate.TryLock(ctx, lockKey, cfg.InFlightTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAlreadyInProgress
	}

	// The client may go away mid-run; the batch must not. Everything past
	// the gate runs detached from the request context.
	runCtx := context.WithoutCancel(ctx)
	defer func() {
		if rerr := s.gate.Release(runCtx, lockKey, token); rerr != nil {
			s.log.Warn("in-flight release failed",
				zap.String("key", lockKey),
				zap.Error(rerr))
		}
	}()

	batch := &domain.Batch{
		ID:             s.genID.Generate(),
		PublicID:       ulid.Make().String(),
		UserID:         userID,
		Status:         domain.BatchStatusRunning,
		Filters:        filters,
		SourceModel:    s.cfg.Search.Model,
		RankModel:      s.cfg.GenAI.Model,
		RequestedCount: filters.Count,
		CreatedAt:      s.clk.Now(),
	}
	if err := s.repo.InsertBatch(runCtx, batch); err != nil {
		// The partial unique index on running batches backs up the gate.
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyInProgress
		}
		return nil, err
	}

	s.log.Info("generation started",
		zap.Int64("user_id", int64(userID)),
		zap.String("batch", batch.PublicID),
		zap.Int("count", filters.Count))

	history, err := s.ratings.HistoryForPrompt(runCtx, userID)
	if err != nil {
		return nil, s.failBatch(runCtx, batch, domain.ErrorKindInternal, err)
	}

	candidates, err := s.sourceCandidates(runCtx, history, filters, cfg)
	if err != nil {
		return nil, s.failBatch(runCtx, batch, domain.ErrorKindUpstream, err)
	}

	items, err := s.enforceSchema(runCtx, candidates, history, filters, cfg)
	if err != nil {
		kind := domain.ErrorKindSchema
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			kind = domain.ErrorKindUpstream
		}
		return nil, s.failBatch(runCtx, batch, kind, err)
	}

	watchKeys, err := s.watchlist.TitleSet(runCtx, userID)
	if err != nil {
		return nil, s.failBatch(runCtx, batch, domain.ErrorKindInternal, err)
	}
	recentKeys, err := s.repo.RecentKeys(runCtx, userID, s.clk.Now().Add(-cfg.DedupWindow))
	if err != nil {
		return nil, s.failBatch(runCtx, batch, domain.ErrorKindInternal, err)
	}

	stored, skipped, failed := s.persistItems(runCtx, batch, items, watchKeys, recentKeys)

	batch.Status = domain.BatchStatusCompleted
	batch.StoredCount = stored
	batch.SkippedCount = skipped
	batch.FailedCount = failed
	completedAt := s.clk.Now()
	batch.CompletedAt = &completedAt
	if err := s.repo.UpdateBatch(runCtx, batch); err != nil {
		// Rows are stored; the stuck-batch reaper will settle the status.
		s.log.Error("batch completion update failed",
			zap.String("batch", batch.PublicID),
			zap.Error(err))
		return nil, err
	}

	s.m.RecordPipelineStage(runCtx, "persist", "ok")
	s.log.Info("generation completed",
		zap.String("batch", batch.PublicID),
		zap.Int("stored", stored),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))

	return &domain.BulkResult{Batch: batch, Stored: stored, Skipped: skipped, Failed: failed}, nil
}

// sourceCandidates runs the web-grounded sourcing stage. One call, its own
// timeout, no retry.
func (s *Service) sourceCandidates(ctx context.Context, history []ratingdomain.HistoryEntry, filters domain.FilterSpec, cfg config.RecsConfig) (domain.CandidateSet, error) {
	prompt := buildSourcingPrompt(history, filters, cfg.LikedScore, cfg.DislikedScore)

	stageCtx, cancel := context.WithTimeout(ctx, cfg.StageTimeout)
	defer cancel()

	answer, err := s.search.Answer(stageCtx, prompt)
	if err != nil {
		s.m.RecordPipelineStage(ctx, "sourcing", "error")
		s.m.RecordProviderCall(ctx, "search", "error")
		return domain.CandidateSet{}, fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, err)
	}
	s.m.RecordPipelineStage(ctx, "sourcing", "ok")
	s.m.RecordProviderCall(ctx, "search", "ok")

	return domain.CandidateSet{RawText: answer, Prompt: prompt}, nil
}

// enforceSchema runs the structuring stage. Malformed output earns exactly
// one corrective re-prompt; transport failures do not.
func (s *Service) enforceSchema(ctx context.Context, candidates domain.CandidateSet, history []ratingdomain.HistoryEntry, filters domain.FilterSpec, cfg config.RecsConfig) ([]rankedItem, error) {
	schema := recommendationSchema(filters.Count)
	prompt := buildRankingPrompt(candidates.RawText, history, filters, cfg.LikedScore, cfg.DislikedScore)

	raw, err := s.completeRanking(ctx, prompt, schema, cfg)
	if err != nil {
		s.m.RecordPipelineStage(ctx, "ranking", "error")
		return nil, err
	}
	items, perr := parseRankedItems(raw)
	if perr == nil {
		s.m.RecordPipelineStage(ctx, "ranking", "ok")
		return items, nil
	}

	s.log.Warn("ranking output rejected, re-prompting once", zap.Error(perr))
	s.m.RecordPipelineStage(ctx, "ranking", "retry")

	raw, err = s.completeRanking(ctx, buildCorrectivePrompt(prompt, perr, string(raw)), schema, cfg)
	if err != nil {
		s.m.RecordPipelineStage(ctx, "ranking", "error")
		return nil, err
	}
	items, perr = parseRankedItems(raw)
	if perr != nil {
		s.m.RecordPipelineStage(ctx, "ranking", "error")
		return nil, fmt.Errorf("%w: %s", domain.ErrSchemaViolation, perr)
	}
	s.m.RecordPipelineStage(ctx, "ranking", "ok")
	return items, nil
}

func (s *Service) completeRanking(ctx context.Context, prompt string, schema json.RawMessage, cfg config.RecsConfig) (json.RawMessage, error) {
	stageCtx, cancel := context.WithTimeout(ctx, cfg.StageTimeout)
	defer cancel()

	raw, err := s.genai.CompleteJSON(stageCtx, genai.StructuredRequest{
		System:     rankingSystemPrompt,
		User:       prompt,
		SchemaName: "recommendations",
		Schema:     schema,
	})
	if err != nil {
		s.m.RecordProviderCall(ctx, "genai", "error")
		return nil, fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, err)
	}
	s.m.RecordProviderCall(ctx, "genai", "ok")
	return raw, nil
}

// persistItems stores each item independently. A failed item never aborts
// the batch.
func (s *Service) persistItems(ctx context.Context, batch *domain.Batch, items []rankedItem, watchKeys, recentKeys map[string]struct{}) (stored, skipped, failed int) {
	dedup := make(map[string]struct{}, len(watchKeys)+len(recentKeys))
	for k := range watchKeys {
		dedup[k] = struct{}{}
	}
	for k := range recentKeys {
		dedup[k] = struct{}{}
	}

	now := s.clk.Now()
	for i, item := range items {
		key := titledomain.Key(item.Title, item.Year)
		if _, dup := dedup[key]; dup {
			skipped++
			continue
		}

		title, err := s.titles.ResolveOrCreate(ctx, titledomain.TitleRef{
			Name:      item.Title,
			Year:      item.Year,
			MediaType: item.MediaType,
		})
		if err != nil {
			failed++
			s.log.Warn("recommendation item not resolvable",
				zap.String("title", item.Title),
				zap.Int("year", item.Year),
				zap.Error(err))
			continue
		}

		titleID := title.ID
		rec := &domain.Recommendation{
			ID:        s.genID.Generate(),
			BatchID:   batch.ID,
			UserID:    batch.UserID,
			TitleID:   &titleID,
			Name:      title.Name,
			Year:      title.Year,
			Rank:      i + 1,
			Score:     item.Score,
			Reason:    strings.TrimSpace(item.Reason),
			CreatedAt: now,
		}
		if err := s.repo.InsertRecommendation(ctx, rec); err != nil {
			failed++
			s.log.Warn("recommendation insert failed",
				zap.String("title", item.Title),
				zap.Error(err))
			continue
		}

		dedup[key] = struct{}{}
		stored++
	}

	s.m.RecordPipelineItems(ctx, "stored", stored)
	s.m.RecordPipelineItems(ctx, "skipped", skipped)
	s.m.RecordPipelineItems(ctx, "failed", failed)
	return stored, skipped, failed
}

// failBatch marks the batch failed and returns the causing error for the
// caller to surface.
func (s *Service) failBatch(ctx context.Context, batch *domain.Batch, kind string, cause error) error {
	batch.Status = domain.BatchStatusFailed
	batch.ErrorKind = kind
	completedAt := s.clk.Now()
	batch.CompletedAt = &completedAt
	if err := s.repo.UpdateBatch(ctx, batch); err != nil {
		s.log.Error("batch failure update failed",
			zap.String("batch", batch.PublicID),
			zap.Error(err))
	}
	s.log.Warn("generation failed",
		zap.String("batch", batch.PublicID),
		zap.String("kind", kind),
		zap.Error(cause))
	return cause
}

func (s *Service) Status(ctx context.Context, userID snowflake.ID) (*domain.Status, error) {
	cfg := s.recs.Get()

	count, err := s.ratings.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	inFlight, err := s.repo.HasRunningBatch(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &domain.Status{
		RatingCount: count,
		Required:    cfg.MinRatings,
		Ready:       count >= int64(cfg.MinRatings),
		InFlight:    inFlight,
	}

	latest, err := s.repo.LatestBatch(ctx, userID)
	if err == nil {
		status.LatestBatch = latest.Summary()
	} else if !errors.Is(err, domain.ErrBatchNotFound) {
		return nil, err
	}
	return status, nil
}

func (s *Service) ListActive(ctx context.Context, userID snowflake.ID) ([]*domain.Recommendation, error) {
	latest, err := s.repo.LatestCompletedBatch(ctx, userID)
	if errors.Is(err, domain.ErrBatchNotFound) {
		return []*domain.Recommendation{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.repo.ListByBatch(ctx, latest.ID)
}
