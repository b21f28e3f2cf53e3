package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/reelay/reelay/internal/auth"
	authdomain "github.com/reelay/reelay/internal/auth/domain"
	"github.com/reelay/reelay/internal/auth/session"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/observability"
	obslogger "github.com/reelay/reelay/internal/observability/logger"
	obsmetrics "github.com/reelay/reelay/internal/observability/metrics"
	obstracing "github.com/reelay/reelay/internal/observability/tracing"
	"github.com/reelay/reelay/internal/providers"
	"github.com/reelay/reelay/internal/ratelimit"
	"github.com/reelay/reelay/internal/rating"
	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	"github.com/reelay/reelay/internal/recommendation"
	recdomain "github.com/reelay/reelay/internal/recommendation/domain"
	"github.com/reelay/reelay/internal/title"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	"github.com/reelay/reelay/internal/watchlist"
	watchlistdomain "github.com/reelay/reelay/internal/watchlist/domain"
)

var Module = fx.Module("http.server",
	auth.Module,
	session.Module,
	providers.Module,
	ratelimit.Module,
	title.Module,
	rating.Module,
	watchlist.Module,
	recommendation.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	sessions  *session.Manager
	genID     *snowflake.Node
	authsvc   authdomain.Service
	titleSvc  titledomain.Service
	ratingSvc ratingdomain.Service
	watchSvc  watchlistdomain.Service
	recSvc    recdomain.Service
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Sessions  *session.Manager
	GenID     *snowflake.Node
	Authsvc   authdomain.Service
	TitleSvc  titledomain.Service
	RatingSvc ratingdomain.Service
	WatchSvc  watchlistdomain.Service
	RecSvc    recdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		sessions:  p.Sessions,
		genID:     p.GenID,
		authsvc:   p.Authsvc,
		titleSvc:  p.TitleSvc,
		ratingSvc: p.RatingSvc,
		watchSvc:  p.WatchSvc,
		recSvc:    p.RecSvc,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	grp := s.engine.Group("/auth")

	grp.POST("/signup", s.Signup)
	grp.POST("/login", s.Login)
	grp.POST("/logout", s.Logout)
	grp.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	api.GET("/titles/trending", s.Trending)
	api.GET("/titles/search", s.SearchTitles)

	api.POST("/ratings", s.CreateRating)
	api.GET("/ratings", s.ListRatings)
	api.DELETE("/ratings/:titleId", s.DeleteRating)

	api.POST("/watchlist", s.AddWatchlistItem)
	api.GET("/watchlist", s.ListWatchlist)
	api.DELETE("/watchlist/:titleId", s.RemoveWatchlistItem)

	api.POST("/recommendations/bulk", s.GenerateRecommendations)
	api.GET("/recommendations/bulk", s.RecommendationStatus)
	api.GET("/recommendations", s.ListRecommendations)
}
