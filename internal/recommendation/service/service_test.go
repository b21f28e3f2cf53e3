package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/providers/genai"
	"github.com/reelay/reelay/internal/providers/search"
	"github.com/reelay/reelay/internal/providers/tmdb"
	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	ratingrepo "github.com/reelay/reelay/internal/rating/repository"
	ratingservice "github.com/reelay/reelay/internal/rating/service"
	"github.com/reelay/reelay/internal/ratelimit"
	"github.com/reelay/reelay/internal/recommendation/domain"
	recrepo "github.com/reelay/reelay/internal/recommendation/repository"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	titlerepo "github.com/reelay/reelay/internal/title/repository"
	titleservice "github.com/reelay/reelay/internal/title/service"
	watchlistdomain "github.com/reelay/reelay/internal/watchlist/domain"
	watchlistrepo "github.com/reelay/reelay/internal/watchlist/repository"
	watchlistservice "github.com/reelay/reelay/internal/watchlist/service"
	"github.com/reelay/reelay/pkg/db"
)

var testEpoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       domain.Service
	repo      domain.Repository
	ratings   ratingdomain.Service
	watchlist watchlistdomain.Service
	gate      ratelimit.Gate
	clk       *clock.FakeClock

	searchCalls   atomic.Int64
	genaiCalls    atomic.Int64
	searchFail    atomic.Bool
	searchDelay   atomic.Int64 // milliseconds
	searchAnswer  atomic.Value // string
	lastSearchReq atomic.Value // string, raw request body
	lastGenaiReq  atomic.Value // string

	mu         sync.Mutex
	genaiQueue []string // chat response bodies, served in order
}

// chatBody wraps content into a chat-completions response with proper
// escaping.
func chatBody(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	})
	return string(raw)
}

func (f *fixture) queueGenai(bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genaiQueue = append(f.genaiQueue, bodies...)
}

func (f *fixture) popGenai() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.genaiQueue) == 0 {
		return "", false
	}
	body := f.genaiQueue[0]
	f.genaiQueue = f.genaiQueue[1:]
	return body, true
}

func newFixture(t *testing.T, recsCfg config.RecsConfig) *fixture {
	t.Helper()

	conn := db.NewTest()
	err := conn.AutoMigrate(
		&titledomain.Title{},
		&titledomain.TrendingEntry{},
		&ratingdomain.Rating{},
		&watchlistdomain.Item{},
		&domain.Batch{},
		&domain.Recommendation{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{clk: clock.NewFakeClock(testEpoch)}
	f.searchAnswer.Store("1. Arrival (2016), movie: cerebral first-contact drama.\n2. Coherence (2013), movie: low-fi mind-bender.")

	searchSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		f.lastSearchReq.Store(string(raw))
		if delay := f.searchDelay.Load(); delay > 0 {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
		if f.searchFail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(chatBody(f.searchAnswer.Load().(string))))
	}))
	t.Cleanup(searchSrv.Close)

	genaiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.genaiCalls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		f.lastGenaiReq.Store(string(raw))
		if body, ok := f.popGenai(); ok {
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(chatBody(`{"items": []}`)))
	}))
	t.Cleanup(genaiSrv.Close)

	cfg := config.Config{}
	cfg.TMDB.BaseURL = "http://127.0.0.1:0"
	cfg.TMDB.APIKey = "unused"
	cfg.TMDB.HTTPTimeout = time.Second
	cfg.Search.BaseURL = searchSrv.URL
	cfg.Search.APIKey = "test"
	cfg.Search.Model = "sonar-test"
	cfg.Search.Timeout = 2 * time.Second
	cfg.GenAI.BaseURL = genaiSrv.URL
	cfg.GenAI.APIKey = "test"
	cfg.GenAI.Model = "structurer-test"
	cfg.GenAI.Timeout = 2 * time.Second

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	recsHolder := config.NewStaticRecsConfigHolder(recsCfg)
	limiter := ratelimit.TMDBLimiter{Limiter: ratelimit.New(1000, time.Minute, f.clk, zap.NewNop(), nil)}

	titles := titleservice.New(zap.NewNop(), titlerepo.New(conn), tmdb.NewClient(cfg), limiter, recsHolder, node, f.clk, nil)
	f.ratings = ratingservice.New(zap.NewNop(), ratingrepo.New(conn), titles, node, f.clk)
	f.watchlist = watchlistservice.New(zap.NewNop(), watchlistrepo.New(conn), titles, node, f.clk)
	f.repo = recrepo.New(conn)
	f.gate = ratelimit.NewLocalGate(f.clk)

	f.svc = New(
		zap.NewNop(),
		f.repo,
		f.ratings,
		f.watchlist,
		titles,
		search.NewClient(cfg),
		genai.NewClient(cfg),
		f.gate,
		recsHolder,
		cfg,
		node,
		f.clk,
		nil,
	)
	return f
}

func (f *fixture) rate(t *testing.T, userID snowflake.ID, name string, year int, score float64) {
	t.Helper()
	if _, err := f.ratings.Rate(context.Background(), userID, ratingdomain.RateRequest{Name: name, Year: year, Score: score}); err != nil {
		t.Fatalf("rate %s: %v", name, err)
	}
	f.clk.Advance(time.Second)
}

func (f *fixture) rateThree(t *testing.T, userID snowflake.ID) {
	t.Helper()
	f.rate(t, userID, "Interstellar", 2014, 9)
	f.rate(t, userID, "Sunshine", 2007, 7)
	f.rate(t, userID, "Gattaca", 1997, 4.5)
}

const validItems = `{"items": [
	{"title": "Arrival", "year": 2016, "mediaType": "movie", "score": 0.92, "reason": "Cerebral first-contact story with an emotional core."},
	{"title": "Coherence", "year": 2013, "mediaType": "movie", "score": 0.81, "reason": "Low-budget puzzle in the vein of the user's favorites."},
	{"title": "Severance", "year": 2022, "mediaType": "tv", "score": 0.77, "reason": "High-concept slow-burn mystery."}
]}`

func TestGenerateBulkStoresRankedItems(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(1)
	f.rateThree(t, userID)
	f.queueGenai(chatBody(validItems))

	result, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{Count: 3})
	if err != nil {
		t.Fatalf("GenerateBulk: %v", err)
	}
	if result.Stored != 3 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.Batch.Status != domain.BatchStatusCompleted {
		t.Fatalf("batch status = %s", result.Batch.Status)
	}
	if result.Batch.PublicID == "" {
		t.Fatal("batch has no public id")
	}

	// The sourcing prompt carried the user's taste profile.
	if req, _ := f.lastSearchReq.Load().(string); !strings.Contains(req, "Interstellar (2014)") {
		t.Fatalf("sourcing prompt missing history: %s", req)
	}
	// The ranking request carried the schema.
	if req, _ := f.lastGenaiReq.Load().(string); !strings.Contains(req, "json_schema") || !strings.Contains(req, "mediaType") {
		t.Fatalf("ranking request missing schema: %s", req)
	}

	active, err := f.svc.ListActive(ctx, userID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("active size = %d", len(active))
	}
	if active[0].Rank != 1 || active[0].Name != "Arrival" || active[0].Title == nil {
		t.Fatalf("first rec = %+v", active[0])
	}
	if active[2].Name != "Severance" || active[2].Title.MediaType != "tv" {
		t.Fatalf("third rec = %+v", active[2])
	}
	if active[0].Score != 0.92 || active[0].Reason == "" {
		t.Fatalf("score/reason not stored: %+v", active[0])
	}

	// The in-flight slot is free again.
	token, ok, err := f.gate.TryLock(ctx, inFlightKey(userID), time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock still held after completed run: ok=%v err=%v", ok, err)
	}
	f.gate.Release(ctx, inFlightKey(userID), token)
}

func TestGateRejectsBelowThreshold(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(2)
	f.rate(t, userID, "Interstellar", 2014, 9)
	f.rate(t, userID, "Sunshine", 2007, 7)

	_, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{})
	if !errors.Is(err, domain.ErrInsufficientRatings) {
		t.Fatalf("err = %v, want ErrInsufficientRatings", err)
	}
	var insufficient *domain.InsufficientRatingsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err %v does not carry the count", err)
	}
	if insufficient.Current != 2 || insufficient.Required != 3 {
		t.Fatalf("counts = %+v", insufficient)
	}

	// No provider was contacted and no batch row exists.
	if f.searchCalls.Load() != 0 || f.genaiCalls.Load() != 0 {
		t.Fatal("providers were called past a failed gate")
	}
	status, err := f.svc.Status(ctx, userID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LatestBatch != nil {
		t.Fatalf("failed gate left a batch: %+v", status.LatestBatch)
	}
}

func TestAlreadyInProgress(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(3)
	f.rateThree(t, userID)

	// Another run holds the user's slot.
	if _, ok, err := f.gate.TryLock(ctx, inFlightKey(userID), time.Minute); err != nil || !ok {
		t.Fatalf("seed lock: ok=%v err=%v", ok, err)
	}

	_, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{})
	if !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("err = %v, want ErrAlreadyInProgress", err)
	}
	if f.searchCalls.Load() != 0 {
		t.Fatal("provider called while another run was in flight")
	}

	// A different user is unaffected.
	other := snowflake.ID(4)
	f.rateThree(t, other)
	f.queueGenai(chatBody(validItems))
	if _, err := f.svc.GenerateBulk(ctx, other, domain.FilterSpec{Count: 3}); err != nil {
		t.Fatalf("other user blocked: %v", err)
	}
}

func TestSourcingFailureMarksBatchFailed(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(5)
	f.rateThree(t, userID)
	f.searchFail.Store(true)

	_, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if f.genaiCalls.Load() != 0 {
		t.Fatal("ranking stage ran after sourcing failed")
	}

	status, err := f.svc.Status(ctx, userID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LatestBatch == nil || status.LatestBatch.Status != domain.BatchStatusFailed {
		t.Fatalf("latest batch = %+v", status.LatestBatch)
	}
	if status.LatestBatch.ErrorKind != domain.ErrorKindUpstream {
		t.Fatalf("error kind = %s", status.LatestBatch.ErrorKind)
	}

	// The lock was released despite the failure.
	token, ok, err := f.gate.TryLock(ctx, inFlightKey(userID), time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock still held after failed run: ok=%v err=%v", ok, err)
	}
	f.gate.Release(ctx, inFlightKey(userID), token)
}

func TestStageTimeoutIsUpstreamFailure(t *testing.T) {
	recsCfg := config.DefaultRecsConfig()
	recsCfg.StageTimeout = 50 * time.Millisecond
	f := newFixture(t, recsCfg)
	ctx := context.Background()
	userID := snowflake.ID(6)
	f.rateThree(t, userID)
	f.searchDelay.Store(500)

	start := time.Now()
	_, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout did not bound the stage: %v", elapsed)
	}
}

func TestCorrectiveRetryAfterMalformedOutput(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(7)
	f.rateThree(t, userID)
	f.queueGenai(
		chatBody("here are your recommendations: Arrival, Coherence"),
		chatBody(validItems),
	)

	result, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{Count: 3})
	if err != nil {
		t.Fatalf("GenerateBulk: %v", err)
	}
	if result.Stored != 3 {
		t.Fatalf("stored = %d", result.Stored)
	}
	if f.genaiCalls.Load() != 2 {
		t.Fatalf("genai calls = %d, want 2", f.genaiCalls.Load())
	}
	// The second request was corrective.
	if req, _ := f.lastGenaiReq.Load().(string); !strings.Contains(req, "could not be parsed") {
		t.Fatalf("corrective prompt missing: %s", req)
	}
}

func TestSchemaViolationAfterTwoMalformedOutputs(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(8)
	f.rateThree(t, userID)
	f.queueGenai(
		chatBody("not json"),
		chatBody("still not json"),
	)

	_, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{})
	if !errors.Is(err, domain.ErrSchemaViolation) {
		t.Fatalf("err = %v, want ErrSchemaViolation", err)
	}
	if f.genaiCalls.Load() != 2 {
		t.Fatalf("genai calls = %d, want exactly 2", f.genaiCalls.Load())
	}

	status, _ := f.svc.Status(ctx, userID)
	if status.LatestBatch == nil || status.LatestBatch.ErrorKind != domain.ErrorKindSchema {
		t.Fatalf("latest batch = %+v", status.LatestBatch)
	}
}

func TestDedupSkipsWatchlistedAndRecentTitles(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(9)
	f.rateThree(t, userID)

	if _, err := f.watchlist.Add(ctx, userID, watchlistdomain.AddRequest{Name: "Dune", Year: 2021}); err != nil {
		t.Fatalf("watchlist add: %v", err)
	}

	f.queueGenai(chatBody(`{"items": [
		{"title": "Dune", "year": 2021, "mediaType": "movie", "score": 0.9, "reason": "Epic."},
		{"title": "Arrival", "year": 2016, "mediaType": "movie", "score": 0.8, "reason": "Cerebral."}
	]}`))

	first, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{Count: 2})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Stored != 1 || first.Skipped != 1 {
		t.Fatalf("first run = %+v", first)
	}

	// A later run may not repeat Arrival within the dedup window, even
	// with different casing.
	f.clk.Advance(time.Hour)
	f.queueGenai(chatBody(`{"items": [
		{"title": "ARRIVAL", "year": 2016, "mediaType": "movie", "score": 0.85, "reason": "Repeat."},
		{"title": "Coherence", "year": 2013, "mediaType": "movie", "score": 0.7, "reason": "Fresh pick."}
	]}`))

	second, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{Count: 2})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Stored != 1 || second.Skipped != 1 {
		t.Fatalf("second run = %+v", second)
	}

	active, err := f.svc.ListActive(ctx, userID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Coherence" {
		t.Fatalf("active = %+v", active)
	}
}

func TestPerItemFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(10)
	f.rateThree(t, userID)

	// The middle item slugs to nothing and cannot become a catalog row.
	f.queueGenai(chatBody(`{"items": [
		{"title": "Arrival", "year": 2016, "mediaType": "movie", "score": 0.9, "reason": "Great."},
		{"title": "####", "year": 2020, "mediaType": "movie", "score": 0.5, "reason": "Broken."},
		{"title": "Coherence", "year": 2013, "mediaType": "movie", "score": 0.7, "reason": "Good."}
	]}`))

	result, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{Count: 3})
	if err != nil {
		t.Fatalf("GenerateBulk: %v", err)
	}
	if result.Stored != 2 || result.Failed != 1 || result.Skipped != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.Batch.Status != domain.BatchStatusCompleted {
		t.Fatalf("batch status = %s", result.Batch.Status)
	}
}

func TestStatusIsReadOnly(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	ctx := context.Background()
	userID := snowflake.ID(11)

	status, err := f.svc.Status(ctx, userID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Ready || status.InFlight || status.RatingCount != 0 || status.LatestBatch != nil {
		t.Fatalf("empty status = %+v", status)
	}
	if status.Required != 3 {
		t.Fatalf("required = %d", status.Required)
	}

	f.rateThree(t, userID)
	f.queueGenai(chatBody(validItems))
	if _, err := f.svc.GenerateBulk(ctx, userID, domain.FilterSpec{Count: 3}); err != nil {
		t.Fatalf("GenerateBulk: %v", err)
	}

	callsBefore := f.searchCalls.Load() + f.genaiCalls.Load()
	for i := 0; i < 3; i++ {
		status, err = f.svc.Status(ctx, userID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	if f.searchCalls.Load()+f.genaiCalls.Load() != callsBefore {
		t.Fatal("Status made provider calls")
	}
	if !status.Ready || status.RatingCount != 3 || status.InFlight {
		t.Fatalf("status = %+v", status)
	}
	if status.LatestBatch == nil || status.LatestBatch.Status != domain.BatchStatusCompleted || status.LatestBatch.Stored != 3 {
		t.Fatalf("latest batch = %+v", status.LatestBatch)
	}
}

func TestClientDisconnectDoesNotAbortPersistence(t *testing.T) {
	f := newFixture(t, config.DefaultRecsConfig())
	userID := snowflake.ID(12)
	f.rateThree(t, userID)
	f.searchDelay.Store(100)
	f.queueGenai(chatBody(validItems))

	reqCtx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := f.svc.GenerateBulk(reqCtx, userID, domain.FilterSpec{Count: 3})
	if err != nil {
		t.Fatalf("disconnect aborted the run: %v", err)
	}
	if result.Stored != 3 || result.Batch.Status != domain.BatchStatusCompleted {
		t.Fatalf("result = %+v", result)
	}
}
