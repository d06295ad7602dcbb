package middleware

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var (
	// the event stream hijacks the connection and cannot sit behind a gzip writer
	excludedPaths = []string{
		"/healthz",
		"/v1/uploads/events",
	}
	excludedExtensions = []string{
		".png", ".gif", ".jpeg", ".jpg", ".webp", ".heic", ".avif", ".tif", ".tiff",
	}
)

func Gzip() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.DefaultCompression,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedExtensions(excludedExtensions),
	)
}
