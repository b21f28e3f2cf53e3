package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	titledomain "github.com/reelay/reelay/internal/title/domain"
)

type titlePayload struct {
	ID               string   `json:"id"`
	TMDBID           int64    `json:"tmdbId,omitempty"`
	Name             string   `json:"name"`
	Year             int      `json:"year"`
	MediaType        string   `json:"mediaType"`
	Genres           []string `json:"genres"`
	OriginalLanguage string   `json:"originalLanguage,omitempty"`
	PosterPath       string   `json:"posterPath,omitempty"`
	Overview         string   `json:"overview,omitempty"`
	VoteAverage      float64  `json:"voteAverage,omitempty"`
}

func toTitlePayload(t *titledomain.Title) titlePayload {
	return titlePayload{
		ID:               t.ID.String(),
		TMDBID:           t.TMDBID,
		Name:             t.Name,
		Year:             t.Year,
		MediaType:        t.MediaType,
		Genres:           t.Genres,
		OriginalLanguage: t.OriginalLanguage,
		PosterPath:       t.PosterPath,
		Overview:         t.Overview,
		VoteAverage:      t.VoteAverage,
	}
}

func (s *Server) Trending(c *gin.Context) {
	entries, err := s.titleSvc.Trending(c.Request.Context(), titledomain.TrendingRequest{
		MediaType: c.Query("type"),
		Window:    c.Query("window"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	titles := make([]titlePayload, 0, len(entries))
	var capturedAt time.Time
	for _, entry := range entries {
		if entry.Title == nil {
			continue
		}
		titles = append(titles, toTitlePayload(entry.Title))
		capturedAt = entry.CapturedAt
	}

	c.JSON(http.StatusOK, gin.H{
		"titles":     titles,
		"capturedAt": capturedAt,
	})
}

func (s *Server) SearchTitles(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	results, err := s.titleSvc.Search(c.Request.Context(), titledomain.SearchRequest{
		Query:     query,
		MediaType: c.Query("type"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	titles := make([]titlePayload, 0, len(results))
	for _, title := range results {
		titles = append(titles, toTitlePayload(title))
	}
	c.JSON(http.StatusOK, gin.H{"titles": titles})
}
