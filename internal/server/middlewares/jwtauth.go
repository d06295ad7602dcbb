package middlewares

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/openmined/photoqueue/internal/server/auth"
	"github.com/openmined/photoqueue/internal/server/handlers/api"
)

const (
	bearerPrefix = "Bearer "
	authHeader   = "Authorization"

	// SubjectContextKey holds the token subject for authenticated requests
	SubjectContextKey = "subject"
	// AlbumContextKey holds the album a token is restricted to, if any
	AlbumContextKey = "token_album"
)

// JWTAuth validates bearer access tokens. It is a no-op when auth is disabled.
func JWTAuth(authService *auth.AuthService) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Info("auth middleware disabled")
		return func(ctx *gin.Context) {
			ctx.Next()
		}
	}
	slog.Info("auth middleware enabled")
	return func(ctx *gin.Context) {
		authHeaderValue := ctx.GetHeader(authHeader)
		if authHeaderValue == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				errors.New("authorization header is missing"))
			return
		}

		if !strings.HasPrefix(authHeaderValue, bearerPrefix) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				errors.New("authorization header format must be Bearer {token}"))
			return
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeaderValue, bearerPrefix))
		if tokenString == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials,
				errors.New("token is missing"))
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, tokenString)
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
			return
		}

		ctx.Set(SubjectContextKey, claims.Subject)
		if claims.Album != "" {
			ctx.Set(AlbumContextKey, claims.Album)
		}

		ctx.Next()
	}
}
