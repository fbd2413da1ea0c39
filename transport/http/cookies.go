package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PendingCookieName is the cookie carrying the signed confirmation token
// between the primary-login response and the step-up confirmation request.
const PendingCookieName = "soteria_pending"

// pendingCookieMaxAge is a coarse backstop; the signed expiry inside the
// token is authoritative.
const pendingCookieMaxAge = 600

// SetPendingCookie binds a confirmation token to the client.
func SetPendingCookie(c *gin.Context, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     PendingCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   pendingCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearPendingCookie removes the confirmation token cookie.
func ClearPendingCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     PendingCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// PendingCookie reads the confirmation token cookie, empty when absent.
func PendingCookie(c *gin.Context) string {
	token, err := c.Cookie(PendingCookieName)
	if err != nil {
		return ""
	}
	return token
}
