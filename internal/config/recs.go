package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RecsConfig tunes the recommendation pipeline without a redeploy.
type RecsConfig struct {
	MinRatings     int           `mapstructure:"minRatings"`
	DefaultCount   int           `mapstructure:"defaultCount"`
	MaxCount       int           `mapstructure:"maxCount"`
	LikedScore     float64       `mapstructure:"likedScore"`
	DislikedScore  float64       `mapstructure:"dislikedScore"`
	StageTimeout   time.Duration `mapstructure:"stageTimeout"`
	DedupWindow    time.Duration `mapstructure:"dedupWindow"`
	InFlightTTL    time.Duration `mapstructure:"inFlightTTL"`
	BatchRetention time.Duration `mapstructure:"batchRetention"`
	StuckBatchAge  time.Duration `mapstructure:"stuckBatchAge"`
	TrendingTTL    time.Duration `mapstructure:"trendingTTL"`
}

func DefaultRecsConfig() RecsConfig {
	return RecsConfig{
		MinRatings:     3,
		DefaultCount:   10,
		MaxCount:       50,
		LikedScore:     7.0,
		DislikedScore:  4.0,
		StageTimeout:   30 * time.Second,
		DedupWindow:    30 * 24 * time.Hour,
		InFlightTTL:    2 * time.Minute,
		BatchRetention: 90 * 24 * time.Hour,
		StuckBatchAge:  10 * time.Minute,
		TrendingTTL:    6 * time.Hour,
	}
}

// RecsConfigHolder exposes the current tuning values with hot reload.
type RecsConfigHolder struct {
	current atomic.Value // holds RecsConfig
}

func NewRecsConfigHolder() (*RecsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("recs")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/reelay/config")
	v.AddConfigPath("/etc/reelay")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRecsConfig()
	v.SetDefault("recs.minRatings", defaults.MinRatings)
	v.SetDefault("recs.defaultCount", defaults.DefaultCount)
	v.SetDefault("recs.maxCount", defaults.MaxCount)
	v.SetDefault("recs.likedScore", defaults.LikedScore)
	v.SetDefault("recs.dislikedScore", defaults.DislikedScore)
	v.SetDefault("recs.stageTimeout", defaults.StageTimeout)
	v.SetDefault("recs.dedupWindow", defaults.DedupWindow)
	v.SetDefault("recs.inFlightTTL", defaults.InFlightTTL)
	v.SetDefault("recs.batchRetention", defaults.BatchRetention)
	v.SetDefault("recs.stuckBatchAge", defaults.StuckBatchAge)
	v.SetDefault("recs.trendingTTL", defaults.TrendingTTL)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg RecsConfig
	if err := v.UnmarshalKey("recs", &cfg); err != nil {
		return nil, err
	}
	if err := validateRecsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RecsConfigHolder{}
	holder.current.Store(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated RecsConfig
			if err := v.UnmarshalKey("recs", &updated); err != nil {
				log.Printf("[recs-config] reload failed: %v", err)
				return
			}
			if err := validateRecsConfig(updated); err != nil {
				log.Printf("[recs-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[recs-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *RecsConfigHolder) Get() RecsConfig {
	return h.current.Load().(RecsConfig)
}

// NewStaticRecsConfigHolder wraps fixed values, used by tests.
func NewStaticRecsConfigHolder(cfg RecsConfig) *RecsConfigHolder {
	holder := &RecsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateRecsConfig(cfg RecsConfig) error {
	if cfg.MinRatings < 1 {
		return errors.New("recs.minRatings must be at least 1")
	}
	if cfg.DefaultCount < 1 || cfg.MaxCount < cfg.DefaultCount {
		return errors.New("recs.defaultCount must be within 1..maxCount")
	}
	if cfg.DislikedScore >= cfg.LikedScore {
		return errors.New("recs.dislikedScore must be below likedScore")
	}
	if cfg.StageTimeout <= 0 || cfg.InFlightTTL <= 0 || cfg.TrendingTTL <= 0 {
		return errors.New("recs timeouts must be positive")
	}
	return nil
}
