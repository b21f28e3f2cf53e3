package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	authdomain "github.com/reelay/reelay/internal/auth/domain"
	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	recdomain "github.com/reelay/reelay/internal/recommendation/domain"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	watchlistdomain "github.com/reelay/reelay/internal/watchlist/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
)

// ErrorHandlingMiddleware turns errors collected on the context into the
// JSON error envelope after the handler chain runs.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError fixes the wire contract. The bulk endpoints carry extra fields
// on top of the plain {"error": ...} envelope.
func mapError(err error) (int, gin.H) {
	var insufficient *recdomain.InsufficientRatingsError
	if errors.As(err, &insufficient) {
		return http.StatusBadRequest, gin.H{
			"error":          "Not enough ratings",
			"currentRatings": insufficient.Current,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked):
		return http.StatusUnauthorized, gin.H{"error": "Unauthorized"}

	case errors.Is(err, recdomain.ErrAlreadyInProgress):
		return http.StatusConflict, gin.H{"error": "Generation already in progress"}

	case errors.Is(err, watchlistdomain.ErrAlreadyListed):
		return http.StatusConflict, gin.H{"error": "Already in watchlist"}

	case errors.Is(err, authdomain.ErrUserExists):
		return http.StatusConflict, gin.H{"error": "Email already registered"}

	case errors.Is(err, recdomain.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, gin.H{
			"error":   "Failed to generate recommendations",
			"details": "recommendation provider unavailable",
		}

	case errors.Is(err, recdomain.ErrSchemaViolation):
		return http.StatusInternalServerError, gin.H{
			"error":   "Failed to generate recommendations",
			"details": "provider returned malformed recommendations",
		}

	case isValidationError(err):
		return http.StatusBadRequest, gin.H{"error": validationMessage(err)}

	case isNotFoundError(err):
		return http.StatusNotFound, gin.H{"error": "Not found"}

	default:
		return http.StatusInternalServerError, gin.H{
			"error":   "Internal server error",
			"details": "unexpected failure",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, authdomain.ErrInvalidEmail),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, ratingdomain.ErrInvalidScore),
		errors.Is(err, titledomain.ErrInvalidMediaType),
		errors.Is(err, titledomain.ErrInvalidWindow),
		errors.Is(err, titledomain.ErrInvalidName):
		return true
	default:
		return false
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, authdomain.ErrInvalidEmail):
		return "Invalid email address"
	case errors.Is(err, authdomain.ErrWeakPassword):
		return "Password must be at least 8 characters"
	case errors.Is(err, ratingdomain.ErrInvalidScore):
		return "Score must be between 0.5 and 10 in steps of 0.5"
	case errors.Is(err, titledomain.ErrInvalidMediaType):
		return "Media type must be movie or tv"
	case errors.Is(err, titledomain.ErrInvalidWindow):
		return "Window must be day or week"
	case errors.Is(err, titledomain.ErrInvalidName):
		return "Title name is required"
	default:
		return "Invalid request"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, titledomain.ErrNotFound),
		errors.Is(err, ratingdomain.ErrNotFound),
		errors.Is(err, watchlistdomain.ErrNotFound),
		errors.Is(err, recdomain.ErrBatchNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog labels request-log entries without leaking detail.
func classifyErrorForLog(err error) (string, string) {
	status, _ := mapError(err)
	switch {
	case status == http.StatusUnauthorized:
		return "auth", "unauthorized"
	case status == http.StatusConflict:
		return "conflict", "conflict"
	case status == http.StatusBadRequest:
		return "validation", "invalid_request"
	case status == http.StatusNotFound:
		return "not_found", "not_found"
	case errors.Is(err, recdomain.ErrUpstreamUnavailable):
		return "upstream", "provider_unavailable"
	case errors.Is(err, recdomain.ErrSchemaViolation):
		return "upstream", "schema_violation"
	default:
		return "internal", "internal_error"
	}
}
