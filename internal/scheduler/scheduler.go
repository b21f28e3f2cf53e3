package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	authdomain "github.com/reelay/reelay/internal/auth/domain"
	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	obsmetrics "github.com/reelay/reelay/internal/observability/metrics"
	recdomain "github.com/reelay/reelay/internal/recommendation/domain"
	titledomain "github.com/reelay/reelay/internal/title/domain"
)

// ErrInvalidConfig reports a scheduler constructed without its dependencies.
var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const (
	jobTrendingRefresh = "trending_refresh"
	jobPurgeBatches    = "purge_batches"
	jobReapStuck       = "reap_stuck_batches"
	jobPurgeSessions   = "purge_sessions"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Titles   titledomain.Service
	RecRepo  recdomain.Repository
	Sessions authdomain.SessionRepository
	Recs     *config.RecsConfigHolder
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   Config `optional:"true"`
}

// Scheduler runs periodic maintenance: trending snapshot refresh, batch
// retention, stuck-batch recovery and session cleanup.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clk      clock.Clock
	titles   titledomain.Service
	recRepo  recdomain.Repository
	sessions authdomain.SessionRepository
	recs     *config.RecsConfigHolder
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Titles == nil || p.RecRepo == nil || p.Sessions == nil || p.Recs == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clk:      p.Clock,
		titles:   p.Titles,
		recRepo:  p.RecRepo,
		sessions: p.Sessions,
		recs:     p.Recs,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clk.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", s.genID.Generate().String()),
	)
	log.Debug("job started")
	jobs := obsmetrics.Jobs()
	jobs.IncJobRun(name)

	err := fn(ctx)
	jobs.ObserveJobDuration(name, s.clk.Now().Sub(start))
	if err == nil {
		return nil
	}

	jobs.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Deadline is a soft failure; the next tick picks up the remainder.
		jobs.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Warn("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{jobTrendingRefresh, s.TrendingRefreshJob},
		{jobPurgeBatches, s.PurgeBatchesJob},
		{jobReapStuck, s.ReapStuckBatchesJob},
		{jobPurgeSessions, s.PurgeSessionsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clk.Now().Add(s.cfg.RunInterval)
	jobs := obsmetrics.Jobs()

	for {
		if lag := s.clk.Now().Sub(nextRun); lag > 0 {
			jobs.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("maintenance run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (single-process mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// TrendingRefreshJob walks every media type and window combination so stale
// snapshots are rebuilt off the request path. Fresh snapshots cost one read.
func (s *Scheduler) TrendingRefreshJob(ctx context.Context) error {
	var errs error
	for _, req := range []titledomain.TrendingRequest{
		{MediaType: titledomain.MediaTypeMovie, Window: titledomain.TrendingWindowDay},
		{MediaType: titledomain.MediaTypeMovie, Window: titledomain.TrendingWindowWeek},
		{MediaType: titledomain.MediaTypeTV, Window: titledomain.TrendingWindowDay},
		{MediaType: titledomain.MediaTypeTV, Window: titledomain.TrendingWindowWeek},
	} {
		entries, err := s.titles.Trending(ctx, req)
		if err != nil {
			s.log.Warn("trending snapshot refresh failed",
				zap.String("media_type", req.MediaType),
				zap.String("window", req.Window),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
			continue
		}
		obsmetrics.Jobs().AddItemsProcessed(jobTrendingRefresh, "entries", len(entries))
	}
	return errs
}

// PurgeBatchesJob deletes generation batches past their retention window,
// recommendations included.
func (s *Scheduler) PurgeBatchesJob(ctx context.Context) error {
	retention := s.recs.Get().BatchRetention
	if retention <= 0 {
		return nil
	}
	cutoff := s.clk.Now().Add(-retention)
	deleted, err := s.recRepo.DeleteBatchesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("expired recommendation batches purged",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	obsmetrics.Jobs().AddItemsProcessed(jobPurgeBatches, "deleted", int(deleted))
	return nil
}

// ReapStuckBatchesJob fails running batches whose process died mid-flight so
// their owners can generate again.
func (s *Scheduler) ReapStuckBatchesJob(ctx context.Context) error {
	now := s.clk.Now()
	stuckSince := now.Add(-s.recs.Get().StuckBatchAge)
	flipped, err := s.recRepo.FailStuckBatches(ctx, stuckSince, now)
	if err != nil {
		return err
	}
	if flipped > 0 {
		s.log.Warn("stuck generation batches marked failed",
			zap.Int64("batches", flipped),
			zap.Time("stuck_since", stuckSince),
		)
	}
	obsmetrics.Jobs().AddItemsProcessed(jobReapStuck, "failed", int(flipped))
	return nil
}

// PurgeSessionsJob removes sessions whose expiry has passed.
func (s *Scheduler) PurgeSessionsJob(ctx context.Context) error {
	deleted, err := s.sessions.DeleteExpiredBefore(ctx, s.clk.Now())
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("expired sessions purged", zap.Int64("deleted", deleted))
	}
	obsmetrics.Jobs().AddItemsProcessed(jobPurgeSessions, "deleted", int(deleted))
	return nil
}
