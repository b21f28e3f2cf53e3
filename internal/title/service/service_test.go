package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/providers/tmdb"
	"github.com/reelay/reelay/internal/ratelimit"
	"github.com/reelay/reelay/internal/title/domain"
	"github.com/reelay/reelay/internal/title/repository"
	"github.com/reelay/reelay/pkg/db"
)

var testEpoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc domain.Service
	clk *clock.FakeClock

	trendingCalls atomic.Int64
	searchCalls   atomic.Int64
	detailsCalls  atomic.Int64
	failUpstream  atomic.Bool
	trendingBody  atomic.Value // string
	detailsBody   atomic.Value // string
	searchBody    atomic.Value // string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := db.NewTest()
	if err := conn.AutoMigrate(&domain.Title{}, &domain.TrendingEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{clk: clock.NewFakeClock(testEpoch)}
	f.trendingBody.Store(`{"page": 1, "results": []}`)
	f.searchBody.Store(`{"page": 1, "results": []}`)
	f.detailsBody.Store(`{}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.failUpstream.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch {
		case strings.HasPrefix(r.URL.Path, "/trending/"):
			f.trendingCalls.Add(1)
			w.Write([]byte(f.trendingBody.Load().(string)))
		case strings.HasPrefix(r.URL.Path, "/search/"):
			f.searchCalls.Add(1)
			w.Write([]byte(f.searchBody.Load().(string)))
		default:
			f.detailsCalls.Add(1)
			w.Write([]byte(f.detailsBody.Load().(string)))
		}
	}))
	t.Cleanup(srv.Close)

	cfg := config.Config{}
	cfg.TMDB.BaseURL = srv.URL
	cfg.TMDB.APIKey = "test-key"
	cfg.TMDB.HTTPTimeout = 2 * time.Second

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	limiter := ratelimit.New(100, time.Minute, f.clk, zap.NewNop(), nil)
	f.svc = New(
		zap.NewNop(),
		repository.New(conn),
		tmdb.NewClient(cfg),
		ratelimit.TMDBLimiter{Limiter: limiter},
		config.NewStaticRecsConfigHolder(config.DefaultRecsConfig()),
		node,
		f.clk,
		nil,
	)
	return f
}

func TestResolveOrCreateIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "The Matrix", Year: 1999})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	second, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "  the MATRIX ", Year: 1999, MediaType: "movie"})
	if err != nil {
		t.Fatalf("ResolveOrCreate again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("same identity produced two rows: %d vs %d", first.ID, second.ID)
	}
	if first.Slug != "the-matrix" {
		t.Fatalf("slug = %q", first.Slug)
	}
}

func TestResolveOrCreateDistinguishesYearAndMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	movie1999, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "Dune", Year: 1984})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	movie2021, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "Dune", Year: 2021})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	show, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "Dune", Year: 2021, MediaType: "tv"})
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if movie1999.ID == movie2021.ID || movie2021.ID == show.ID {
		t.Fatal("distinct identities collapsed into one row")
	}
}

func TestResolveOrCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "   "}); !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("blank name err = %v", err)
	}
	if _, err := f.svc.ResolveOrCreate(ctx, domain.TitleRef{Name: "Dune", MediaType: "radio"}); !errors.Is(err, domain.ErrInvalidMediaType) {
		t.Fatalf("bad media err = %v", err)
	}
}

func TestSearchUpsertsCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.searchBody.Store(`{"page": 1, "results": [
		{"id": 603, "title": "The Matrix", "release_date": "1999-03-31", "overview": "A hacker learns the truth.", "vote_average": 8.2, "poster_path": "/matrix.jpg", "original_language": "en"},
		{"id": 604, "title": "The Matrix Reloaded", "release_date": "2003-05-15", "vote_average": 7.0, "poster_path": "/reloaded.jpg", "original_language": "en"}
	]}`)

	titles, err := f.svc.Search(ctx, domain.SearchRequest{Query: "matrix"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(titles) != 2 {
		t.Fatalf("got %d titles, want 2", len(titles))
	}
	if titles[0].PosterPath != "/matrix.jpg" || titles[0].Overview == "" {
		t.Fatalf("first title not enriched: %+v", titles[0])
	}

	again, err := f.svc.Search(ctx, domain.SearchRequest{Query: "matrix"})
	if err != nil {
		t.Fatalf("Search again: %v", err)
	}
	if again[0].ID != titles[0].ID {
		t.Fatal("second search duplicated the catalog row")
	}
}

func TestTrendingCachesUntilStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trendingBody.Store(`{"page": 1, "results": [
		{"id": 550, "title": "Fight Club", "release_date": "1999-10-15", "media_type": "movie", "vote_average": 8.4, "poster_path": "/fc.jpg"},
		{"id": 603, "title": "The Matrix", "release_date": "1999-03-31", "media_type": "movie", "vote_average": 8.2, "poster_path": "/m.jpg"}
	]}`)

	entries, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "movie", Window: "week"})
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Position != 1 || entries[0].Title == nil || entries[0].Title.Name != "Fight Club" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if got := f.trendingCalls.Load(); got != 1 {
		t.Fatalf("trending calls = %d, want 1", got)
	}

	// Within the TTL the snapshot is served from the DB.
	if _, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "movie", Window: "week"}); err != nil {
		t.Fatalf("Trending cached: %v", err)
	}
	if got := f.trendingCalls.Load(); got != 1 {
		t.Fatalf("trending calls after cached read = %d, want 1", got)
	}

	f.clk.Advance(7 * time.Hour)
	if _, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "movie", Window: "week"}); err != nil {
		t.Fatalf("Trending after TTL: %v", err)
	}
	if got := f.trendingCalls.Load(); got != 2 {
		t.Fatalf("trending calls after TTL = %d, want 2", got)
	}
}

func TestTrendingFillsMissingPosterFromDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trendingBody.Store(`{"page": 1, "results": [
		{"id": 1399, "name": "Game of Thrones", "first_air_date": "2011-04-17", "media_type": "tv", "vote_average": 8.2}
	]}`)
	f.detailsBody.Store(`{"id": 1399, "name": "Game of Thrones", "first_air_date": "2011-04-17", "poster_path": "/got.jpg", "genres": [{"id": 18, "name": "Drama"}, {"id": 10765, "name": "Sci-Fi & Fantasy"}]}`)

	entries, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "tv", Window: "day"})
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	title := entries[0].Title
	if title == nil || title.PosterPath != "/got.jpg" {
		t.Fatalf("poster not filled: %+v", title)
	}
	if len(title.Genres) != 2 || title.Genres[0] != "Drama" {
		t.Fatalf("genres = %v", title.Genres)
	}
	if got := f.detailsCalls.Load(); got != 1 {
		t.Fatalf("details calls = %d, want 1", got)
	}
}

func TestTrendingServesStaleWhenUpstreamFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trendingBody.Store(`{"page": 1, "results": [
		{"id": 550, "title": "Fight Club", "release_date": "1999-10-15", "media_type": "movie", "poster_path": "/fc.jpg"}
	]}`)

	if _, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "movie", Window: "week"}); err != nil {
		t.Fatalf("initial Trending: %v", err)
	}

	f.clk.Advance(8 * time.Hour)
	f.failUpstream.Store(true)

	entries, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "movie", Window: "week"})
	if err != nil {
		t.Fatalf("stale Trending returned error: %v", err)
	}
	if len(entries) != 1 || entries[0].Title.Name != "Fight Club" {
		t.Fatalf("stale snapshot not served: %+v", entries)
	}
}

func TestTrendingErrorWhenEmptyAndUpstreamFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.failUpstream.Store(true)

	if _, err := f.svc.Trending(ctx, domain.TrendingRequest{MediaType: "movie", Window: "week"}); err == nil {
		t.Fatal("expected error with empty snapshot and failing upstream")
	}
}
