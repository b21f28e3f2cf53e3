package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	"github.com/reelay/reelay/pkg/db/pagination"
)

type rateRequest struct {
	TitleID   string  `json:"titleId"`
	TMDBID    int64   `json:"tmdbId"`
	Name      string  `json:"name"`
	Year      int     `json:"year"`
	MediaType string  `json:"mediaType"`
	Score     float64 `json:"score"`
}

func parseTitleID(raw string) (snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) CreateRating(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	titleID, _ := parseTitleID(req.TitleID)
	if titleID == 0 && req.TMDBID == 0 && strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	rating, err := s.ratingSvc.Rate(c.Request.Context(), userID, ratingdomain.RateRequest{
		TitleID:   titleID,
		TMDBID:    req.TMDBID,
		Name:      req.Name,
		Year:      req.Year,
		MediaType: req.MediaType,
		Score:     req.Score,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": rating})
}

func (s *Server) ListRatings(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.ratingSvc.ListByUser(c.Request.Context(), ratingdomain.ListRequest{
		UserID: userID,
		Page:   page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteRating(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	titleID, ok := parseTitleID(c.Param("titleId"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.ratingSvc.Delete(c.Request.Context(), userID, titleID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rating removed"})
}
