package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// control plane cors config. Browsers on any origin may drive the local
// daemon, the token check decides the rest.
var corsConfig = cors.Config{
	AllowAllOrigins: true,
	AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
	AllowHeaders: []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
	},
	ExposeHeaders: []string{"Content-Length"},
	MaxAge:        12 * time.Hour,
}

func CORS() gin.HandlerFunc {
	return cors.New(corsConfig)
}
