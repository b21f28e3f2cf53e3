// Package tmdb is the client for The Movie Database API. Callers are
// responsible for pacing requests through the window limiter.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/reelay/reelay/internal/config"
)

var (
	ErrNotFound     = errors.New("tmdb: not found")
	ErrUnauthorized = errors.New("tmdb: invalid api key")
)

// Client is a bearer-token HTTP client for the TMDB v3 API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.TMDB.BaseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.TMDB.APIKey),
		client:  &http.Client{Timeout: cfg.TMDB.HTTPTimeout},
	}
}

// Result is one entry from the trending and search endpoints.
type Result struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title,omitempty"`
	Name             string  `json:"name,omitempty"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date,omitempty"`
	FirstAirDate     string  `json:"first_air_date,omitempty"`
	MediaType        string  `json:"media_type,omitempty"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	PosterPath       string  `json:"poster_path"`
}

// DisplayName returns the movie title or TV show name.
func (r Result) DisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

// ReleaseYear extracts the year from whichever date field is set.
func (r Result) ReleaseYear() int {
	return yearOf(r.ReleaseDate, r.FirstAirDate)
}

// Genre is a movie/TV genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Details is the response from the movie and TV detail endpoints.
type Details struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title,omitempty"`
	Name             string  `json:"name,omitempty"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date,omitempty"`
	FirstAirDate     string  `json:"first_air_date,omitempty"`
	Genres           []Genre `json:"genres"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	PosterPath       string  `json:"poster_path"`
	Budget           int64   `json:"budget,omitempty"`
	Revenue          int64   `json:"revenue,omitempty"`
}

// DisplayName returns the movie title or TV show name.
func (d Details) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

// ReleaseYear extracts the year from whichever date field is set.
func (d Details) ReleaseYear() int {
	return yearOf(d.ReleaseDate, d.FirstAirDate)
}

type resultPage struct {
	Page    int      `json:"page"`
	Results []Result `json:"results"`
}

// Trending fetches /trending/{movie|tv}/{day|week}.
func (c *Client) Trending(ctx context.Context, mediaType, window string) ([]Result, error) {
	var page resultPage
	path := fmt.Sprintf("/trending/%s/%s", url.PathEscape(mediaType), url.PathEscape(window))
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// SearchTitles searches movies or TV shows by name.
func (c *Client) SearchTitles(ctx context.Context, query, mediaType string) ([]Result, error) {
	var page resultPage
	path := fmt.Sprintf("/search/%s?query=%s", url.PathEscape(mediaType), url.QueryEscape(query))
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Details fetches /{movie|tv}/{id}.
func (c *Client) Details(ctx context.Context, mediaType string, id int64) (*Details, error) {
	var details Details
	path := fmt.Sprintf("/%s/%d", url.PathEscape(mediaType), id)
	if err := c.get(ctx, path, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	if c.apiKey == "" {
		return ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("tmdb request build: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("tmdb: HTTP %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("tmdb decode %s: %w", path, err)
	}
	return nil
}

func yearOf(dates ...string) int {
	for _, date := range dates {
		if len(date) >= 4 {
			var year int
			if _, err := fmt.Sscanf(date[:4], "%d", &year); err == nil {
				return year
			}
		}
	}
	return 0
}
