package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	watchlistdomain "github.com/reelay/reelay/internal/watchlist/domain"
	"github.com/reelay/reelay/pkg/db/pagination"
)

type watchlistAddRequest struct {
	TitleID   string `json:"titleId"`
	TMDBID    int64  `json:"tmdbId"`
	Name      string `json:"name"`
	Year      int    `json:"year"`
	MediaType string `json:"mediaType"`
}

func (s *Server) AddWatchlistItem(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req watchlistAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	titleID, _ := parseTitleID(req.TitleID)
	if titleID == 0 && req.TMDBID == 0 && strings.TrimSpace(req.Name) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	item, err := s.watchSvc.Add(c.Request.Context(), userID, watchlistdomain.AddRequest{
		TitleID:   titleID,
		TMDBID:    req.TMDBID,
		Name:      req.Name,
		Year:      req.Year,
		MediaType: req.MediaType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (s *Server) ListWatchlist(c *gin.Context) {
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

	resp, err := s.watchSvc.ListByUser(c.Request.Context(), watchlistdomain.ListRequest{
		UserID: userID,
		Page:   page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) RemoveWatchlistItem(c *gin.Context) {
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

	if err := s.watchSvc.Remove(c.Request.Context(), userID, titleID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Removed from watchlist"})
}
