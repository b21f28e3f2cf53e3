package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/reelay/reelay/internal/usercontext"
)

const contextUserIDKey = "user_id"

// AuthRequired authenticates the session cookie and stores the user ID on
// both the gin context and the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		sess, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserIDKey, sess.UserID)
		c.Request = c.Request.WithContext(usercontext.WithUserID(c.Request.Context(), sess.UserID))
		c.Next()
	}
}

// currentUserID reads the authenticated user set by AuthRequired.
func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	if v, ok := c.Get(contextUserIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id, true
		}
	}
	return usercontext.UserIDFromContext(c.Request.Context())
}
