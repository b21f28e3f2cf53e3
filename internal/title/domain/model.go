package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"gorm.io/datatypes"
)

const (
	MediaTypeMovie = "movie"
	MediaTypeTV    = "tv"

	TrendingWindowDay  = "day"
	TrendingWindowWeek = "week"
)

type Title struct {
	ID               snowflake.ID                `gorm:"primaryKey" json:"id"`
	MediaType        string                      `gorm:"not null;default:'movie';uniqueIndex:idx_titles_slug_year_media,priority:3" json:"media_type"`
	TMDBID           int64                       `gorm:"column:tmdb_id;index" json:"tmdb_id,omitempty"`
	Name             string                      `gorm:"not null" json:"name"`
	Slug             string                      `gorm:"not null;uniqueIndex:idx_titles_slug_year_media,priority:1" json:"slug"`
	Year             int                         `gorm:"not null;default:0;uniqueIndex:idx_titles_slug_year_media,priority:2" json:"year"`
	Genres           datatypes.JSONSlice[string] `gorm:"type:jsonb;not null;default:'[]'" json:"genres"`
	OriginalLanguage string                      `gorm:"not null;default:''" json:"original_language,omitempty"`
	PosterPath       string                      `gorm:"not null;default:''" json:"poster_path,omitempty"`
	Overview         string                      `gorm:"not null;default:''" json:"overview,omitempty"`
	VoteAverage      float64                     `gorm:"type:numeric(4,2);not null;default:0" json:"vote_average"`
	CreatedAt        time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Title) TableName() string {
	return "titles"
}

// Key returns the title's dedup identity.
func (t *Title) Key() string {
	return Key(t.Name, t.Year)
}

type TrendingEntry struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	MediaType  string       `gorm:"not null;uniqueIndex:idx_trending_media_window_pos,priority:1" json:"media_type"`
	Window     string       `gorm:"column:time_window;not null;uniqueIndex:idx_trending_media_window_pos,priority:2" json:"window"`
	Position   int          `gorm:"not null;uniqueIndex:idx_trending_media_window_pos,priority:3" json:"position"`
	TitleID    snowflake.ID `gorm:"not null;index" json:"title_id"`
	Title      *Title       `gorm:"foreignKey:TitleID" json:"title,omitempty"`
	CapturedAt time.Time    `gorm:"not null" json:"captured_at"`
}

func (TrendingEntry) TableName() string {
	return "trending_entries"
}

// TitleRef identifies a title by content rather than by row id. MediaType
// and TMDBID are optional hints.
type TitleRef struct {
	Name      string
	Year      int
	MediaType string
	TMDBID    int64
}

// Slugify normalizes a display name for the slug+year+media identity.
func Slugify(name string) string {
	return slug.Make(name)
}

// Key builds the dedup identity shared by ratings, watchlists, and prior
// recommendations: normalized name plus release year.
func Key(name string, year int) string {
	return fmt.Sprintf("%s|%d", Slugify(name), year)
}

// NormalizeMediaType folds the spellings seen in client input and provider
// responses into movie|tv. Empty input defaults to movie.
func NormalizeMediaType(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", MediaTypeMovie, "film":
		return MediaTypeMovie, nil
	case MediaTypeTV, "show", "series", "tv series", "tv show":
		return MediaTypeTV, nil
	default:
		return "", ErrInvalidMediaType
	}
}

// NormalizeTrendingWindow folds input into day|week. Empty defaults to week.
func NormalizeTrendingWindow(input string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", TrendingWindowWeek:
		return TrendingWindowWeek, nil
	case TrendingWindowDay:
		return TrendingWindowDay, nil
	default:
		return "", ErrInvalidWindow
	}
}
