package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/photoqueue/internal/queue"
	"github.com/openmined/photoqueue/internal/version"
)

// StatusHandler reports daemon health together with the batch stats.
type StatusHandler struct {
	queue     *queue.Queue
	startedAt time.Time
}

func NewStatusHandler(q *queue.Queue) *StatusHandler {
	return &StatusHandler{
		queue:     q,
		startedAt: time.Now(),
	}
}

func (h *StatusHandler) Status(ctx *gin.Context) {
	// this is unlikely to happen, but just in case
	if h.queue == nil {
		ctx.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeUnknownError,
			Error:     "queue not initialized",
		})
		return
	}

	stats := h.queue.Stats()
	ctx.PureJSON(http.StatusOK, &StatusResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.Version,
		Revision:  version.Revision,
		BuildDate: version.BuildDate,
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		BatchID:   h.queue.BatchID(),
		Stats:     &stats,
	})
}
