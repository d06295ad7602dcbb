package client

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/openmined/photoqueue/internal/client/handlers"
	"github.com/openmined/photoqueue/internal/client/middleware"
	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/version"
)

var defaultRate = limiter.Rate{
	Period: 1 * time.Second,
	Limit:  10,
}

type RouteConfig struct {
	Auth middleware.TokenAuthConfig
	// AlbumID is the album assigned to enqueued assets that name none.
	AlbumID string
	// RateLimit defaults to 10 requests per second per client.
	RateLimit limiter.Rate
}

func SetupRoutes(q *queue.Queue, routeConfig *RouteConfig) http.Handler {
	r := gin.New()

	rate := routeConfig.RateLimit
	if rate.Limit == 0 {
		rate = defaultRate
	}
	rateLimiter := limiter.New(memory.NewStore(), rate)

	uploadH := handlers.NewUploadHandler(q, routeConfig.AlbumID)
	eventsH := handlers.NewEventsHandler(q)
	statusH := handlers.NewStatusHandler(q)

	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))

	r.GET("/", IndexHandler)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, handlers.ControlPlaneResponse{Code: handlers.CodeOk})
	})

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(routeConfig.Auth))
	{
		v1.GET("/status", statusH.Status)

		v1Uploads := v1.Group("/uploads")
		{
			v1Uploads.GET("", uploadH.List)
			v1Uploads.POST("", uploadH.Enqueue)
			v1Uploads.GET("/stats", uploadH.Stats)
			v1Uploads.GET("/events", eventsH.Stream)
			v1Uploads.POST("/start", uploadH.Start)
			v1Uploads.POST("/pause", uploadH.PauseAll)
			v1Uploads.POST("/resume", uploadH.ResumeAll)
			v1Uploads.POST("/clear", uploadH.ClearCompleted)

			v1Uploads.GET("/:id", uploadH.Get)
			v1Uploads.DELETE("/:id", uploadH.Remove)
			v1Uploads.POST("/:id/pause", uploadH.Pause)
			v1Uploads.POST("/:id/resume", uploadH.Resume)
			v1Uploads.POST("/:id/retry", uploadH.Retry)
			v1Uploads.POST("/:id/cancel", uploadH.Cancel)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}
