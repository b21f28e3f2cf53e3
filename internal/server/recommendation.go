package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	recdomain "github.com/reelay/reelay/internal/recommendation/domain"
)

type bulkRequest struct {
	Count         int      `json:"count"`
	YearFrom      int      `json:"yearFrom"`
	YearTo        int      `json:"yearTo"`
	Genres        []string `json:"genres"`
	Languages     []string `json:"languages"`
	MinImdbRating float64  `json:"minImdbRating"`
	MinBoxOffice  int64    `json:"minBoxOffice"`
	MaxBudget     int64    `json:"maxBudget"`
}

// GenerateRecommendations runs the full pipeline synchronously and reports
// the per-item tally.
func (s *Server) GenerateRecommendations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	req := bulkRequest{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	result, err := s.recSvc.GenerateBulk(c.Request.Context(), userID, recdomain.FilterSpec{
		Count:        req.Count,
		YearFrom:     req.YearFrom,
		YearTo:       req.YearTo,
		Genres:       req.Genres,
		Languages:    req.Languages,
		MinRating:    req.MinImdbRating,
		MinBoxOffice: req.MinBoxOffice,
		MaxBudget:    req.MaxBudget,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":            fmt.Sprintf("Stored %d new recommendations", result.Stored),
		"successfullyStored": result.Stored,
		"skipped":            result.Skipped,
		"failed":             result.Failed,
	})
}

// RecommendationStatus reports readiness without side effects.
func (s *Server) RecommendationStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	user, err := s.authsvc.GetUser(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status, err := s.recSvc.Status(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	queue := gin.H{"inFlight": status.InFlight}
	if status.LatestBatch != nil {
		queue["batch"] = status.LatestBatch
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":          user.ID.String(),
			"email":       user.Email,
			"ratingCount": status.RatingCount,
		},
		"queue":   queue,
		"ready":   status.Ready,
		"message": statusMessage(status),
	})
}

func statusMessage(status *recdomain.Status) string {
	switch {
	case status.InFlight:
		return "Generation already in progress"
	case !status.Ready:
		remaining := int64(status.Required) - status.RatingCount
		return fmt.Sprintf("Rate %d more titles to unlock recommendations", remaining)
	default:
		return "Ready to generate recommendations"
	}
}

// ListRecommendations serves the newest completed batch in rank order.
func (s *Server) ListRecommendations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	recs, err := s.recSvc.ListActive(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}
