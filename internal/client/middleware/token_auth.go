package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const AuthenticatedKey = "authenticated"

// TokenAuthConfig contains the configuration for token-based authentication.
type TokenAuthConfig struct {
	// Token is the authentication token. Empty disables the check.
	Token string
}

// TokenAuth checks the bearer token, falling back to the token query
// parameter for clients that cannot set headers (browser websockets).
func TokenAuth(config TokenAuthConfig) gin.HandlerFunc {
	if config.Token == "" {
		slog.Info("control plane auth disabled")
		return func(c *gin.Context) {
			c.Next()
		}
	}
	slog.Info("control plane auth enabled")

	expected := []byte(config.Token)

	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			slog.Debug("control plane invalid token", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "ERR_UNAUTHORIZED",
				"error": "Unauthorized",
			})
			return
		}

		c.Set(AuthenticatedKey, true)
		c.Next()
	}
}
