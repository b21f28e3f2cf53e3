package ratelimit

import (
	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewTMDBLimiter, NewGate),
)

// TMDBLimiter paces every TMDB call against its documented request budget.
type TMDBLimiter struct {
	*Limiter
}

func NewTMDBLimiter(cfg config.Config, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) TMDBLimiter {
	return TMDBLimiter{New(cfg.TMDB.RateLimit, cfg.TMDB.RateWindow, clk, log, m)}
}

// NewGate selects the in-flight gate implementation from configuration.
func NewGate(cfg config.Config, clk clock.Clock, log *zap.Logger) Gate {
	if cfg.RedisEnabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		log.Info("in-flight gate backed by redis", zap.String("addr", cfg.RedisAddr))
		return NewLocker(client)
	}
	log.Info("redis not configured, in-flight gate is process-local")
	return NewLocalGate(clk)
}
