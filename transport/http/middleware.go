package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soteria-auth/soteria/core"
	"github.com/soteria-auth/soteria/ports"
)

const userContextKey = "currentUser"

// SessionMiddleware resolves the host's full session and puts the user in
// the request context. Requests without a session are rejected.
func SessionMiddleware(sessions ports.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := sessions.CurrentUser(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(userContextKey, user)

		c.Next()
	}
}

// currentUser returns the session user set by SessionMiddleware.
func currentUser(c *gin.Context) (core.User, bool) {
	value, exists := c.Get(userContextKey)
	if !exists {
		return core.User{}, false
	}
	user, ok := value.(core.User)
	return user, ok
}
