package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/photoqueue/internal/server/handlers/api"
	"github.com/openmined/photoqueue/internal/server/images"
	"github.com/openmined/photoqueue/internal/server/middlewares"
	"github.com/openmined/photoqueue/internal/version"
)

func SetupRoutes(cfg *Config, svc *Services) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB, the rest spills to temp files

	imagesH := images.NewHandler(svc.Images, cfg.MaxUploadSize)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	if cfg.HTTP.TLSEnabled() {
		r.Use(middlewares.HSTS())
	}
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	if cfg.RateLimit != "" {
		limiter, err := middlewares.RateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		v1.Use(limiter)
	}
	v1.Use(middlewares.JWTAuth(svc.Auth))
	{
		v1.POST("/images/upload", imagesH.Upload)
		v1.GET("/images/:id", imagesH.Get)
		v1.GET("/images/:id/content", imagesH.Download)
		v1.GET("/albums/:albumId/images", imagesH.ListAlbum)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, api.APIError{
			Code:    api.CodeInvalidRequest,
			Message: "not found",
		})
	})

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		c.PureJSON(http.StatusMethodNotAllowed, api.APIError{
			Code:    api.CodeInvalidRequest,
			Message: "method not allowed",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
