package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/internal/config"
	"github.com/reelay/reelay/internal/providers/tmdb"
	"github.com/reelay/reelay/internal/ratelimit"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	titlerepo "github.com/reelay/reelay/internal/title/repository"
	titleservice "github.com/reelay/reelay/internal/title/service"
	"github.com/reelay/reelay/internal/watchlist/domain"
	watchlistrepo "github.com/reelay/reelay/internal/watchlist/repository"
	"github.com/reelay/reelay/pkg/db"
	"github.com/reelay/reelay/pkg/db/pagination"
)

var testEpoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()

	conn := db.NewTest()
	if err := conn.AutoMigrate(&titledomain.Title{}, &titledomain.TrendingEntry{}, &domain.Item{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(testEpoch)

	cfg := config.Config{}
	cfg.TMDB.BaseURL = "http://127.0.0.1:0"
	cfg.TMDB.APIKey = "unused"
	cfg.TMDB.HTTPTimeout = time.Second

	titles := titleservice.New(
		zap.NewNop(),
		titlerepo.New(conn),
		tmdb.NewClient(cfg),
		ratelimit.TMDBLimiter{Limiter: ratelimit.New(100, time.Minute, clk, zap.NewNop(), nil)},
		config.NewStaticRecsConfigHolder(config.DefaultRecsConfig()),
		node,
		clk,
		nil,
	)

	return New(zap.NewNop(), watchlistrepo.New(conn), titles, node, clk), clk
}

func TestAddAndDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(3)

	item, err := svc.Add(ctx, userID, domain.AddRequest{Name: "Severance", Year: 2022, MediaType: "tv"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if item.Title == nil || item.Title.MediaType != "tv" {
		t.Fatalf("item = %+v", item)
	}

	if _, err := svc.Add(ctx, userID, domain.AddRequest{Name: "Severance", Year: 2022, MediaType: "tv"}); !errors.Is(err, domain.ErrAlreadyListed) {
		t.Fatalf("duplicate err = %v", err)
	}

	// A different user may list the same title.
	if _, err := svc.Add(ctx, snowflake.ID(4), domain.AddRequest{Name: "Severance", Year: 2022, MediaType: "tv"}); err != nil {
		t.Fatalf("other user Add: %v", err)
	}
}

func TestRemove(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(8)

	item, err := svc.Add(ctx, userID, domain.AddRequest{Name: "Oldboy", Year: 2003})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := svc.Remove(ctx, userID, item.TitleID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := svc.Remove(ctx, userID, item.TitleID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second remove err = %v", err)
	}
}

func TestListByUserPaginates(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(12)

	names := []string{"Coherence", "Primer", "Timecrimes"}
	for i, name := range names {
		if _, err := svc.Add(ctx, userID, domain.AddRequest{Name: name, Year: 2004 + i}); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
		clk.Advance(time.Minute)
	}

	resp, err := svc.ListByUser(ctx, domain.ListRequest{UserID: userID, Page: pagination.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(resp.Items) != 2 || !resp.HasMore {
		t.Fatalf("first page = %d items, hasMore=%v", len(resp.Items), resp.HasMore)
	}
	if resp.Items[0].Title.Name != "Timecrimes" {
		t.Fatalf("newest first broken: %s", resp.Items[0].Title.Name)
	}

	rest, err := svc.ListByUser(ctx, domain.ListRequest{
		UserID: userID,
		Page:   pagination.Pagination{PageSize: 2, PageToken: resp.NextPageToken},
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.Items) != 1 || rest.HasMore {
		t.Fatalf("second page = %d items, hasMore=%v", len(rest.Items), rest.HasMore)
	}
	if rest.Items[0].Title.Name != "Coherence" {
		t.Fatalf("second page item = %s", rest.Items[0].Title.Name)
	}
}

func TestTitleSetKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	userID := snowflake.ID(21)

	if _, err := svc.Add(ctx, userID, domain.AddRequest{Name: "The Thing", Year: 1982}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Add(ctx, userID, domain.AddRequest{Name: "Annihilation", Year: 2018}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	set, err := svc.TitleSet(ctx, userID)
	if err != nil {
		t.Fatalf("TitleSet: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("set size = %d", len(set))
	}
	if _, ok := set[titledomain.Key("The Thing", 1982)]; !ok {
		t.Fatalf("missing key, set = %v", set)
	}
	if _, ok := set[titledomain.Key("the thing", 1982)]; !ok {
		t.Fatal("key normalization broken")
	}
}
