package middlewares

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Content-Length", "Accept-Encoding", "X-PhotoQueue-Version", "X-PhotoQueue-Device", "X-PhotoQueue-Batch"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
