package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/reelay/reelay/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{}
	cfg.TMDB.BaseURL = srv.URL
	cfg.TMDB.APIKey = "test-key"
	cfg.TMDB.HTTPTimeout = 2 * time.Second
	return NewClient(cfg)
}

func TestTrendingParsesResults(t *testing.T) {
	var gotPath, gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"page": 1,
			"results": [
				{"id": 550, "title": "Fight Club", "release_date": "1999-10-15", "vote_average": 8.4, "poster_path": "/fc.jpg", "original_language": "en"},
				{"id": 1399, "name": "Game of Thrones", "first_air_date": "2011-04-17", "media_type": "tv", "vote_average": 8.2, "poster_path": "/got.jpg", "original_language": "en"}
			]
		}`))
	})

	results, err := client.Trending(context.Background(), "movie", "week")
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if gotPath != "/trending/movie/week" {
		t.Fatalf("path = %q, want /trending/movie/week", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].DisplayName() != "Fight Club" || results[0].ReleaseYear() != 1999 {
		t.Fatalf("movie result = %q (%d)", results[0].DisplayName(), results[0].ReleaseYear())
	}
	if results[1].DisplayName() != "Game of Thrones" || results[1].ReleaseYear() != 2011 {
		t.Fatalf("tv result = %q (%d)", results[1].DisplayName(), results[1].ReleaseYear())
	}
}

func TestSearchTitlesEscapesQuery(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Write([]byte(`{"page": 1, "results": []}`))
	})

	if _, err := client.SearchTitles(context.Background(), "spirited away & more", "movie"); err != nil {
		t.Fatalf("SearchTitles: %v", err)
	}
	if gotQuery != "spirited away & more" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestDetailsIncludesGenres(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/550" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id": 550, "title": "Fight Club", "release_date": "1999-10-15", "genres": [{"id": 18, "name": "Drama"}], "poster_path": "/fc.jpg"}`))
	})

	details, err := client.Details(context.Background(), "movie", 550)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if len(details.Genres) != 1 || details.Genres[0].Name != "Drama" {
		t.Fatalf("genres = %+v", details.Genres)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	if _, err := client.Details(context.Background(), "movie", 999999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := client.Trending(context.Background(), "movie", "day"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestMissingKeyFailsBeforeRequest(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	client.apiKey = ""

	if _, err := client.Trending(context.Background(), "movie", "day"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if called {
		t.Fatal("request was sent without an api key")
	}
}
