package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/openmined/photoqueue/internal/queue"
)

const (
	writeTimeout = 10 * time.Second

	// EventSnapshot is the first message of every stream and carries the current stats.
	EventSnapshot queue.EventType = "snapshot"
)

// EventsHandler streams queue events to websocket clients.
type EventsHandler struct {
	queue *queue.Queue
}

func NewEventsHandler(q *queue.Queue) *EventsHandler {
	return &EventsHandler{queue: q}
}

func (h *EventsHandler) Stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// origin is not checked, the token middleware guards the route
		InsecureSkipVerify: true,
	})
	if err != nil {
		// Accept has already written the http error
		slog.Warn("events accept", "error", err)
		return
	}
	defer conn.CloseNow()

	// the stream is write only, CloseRead handles control frames and ends ctx
	// once the peer goes away
	ctx := conn.CloseRead(c.Request.Context())

	events := h.queue.Subscribe()
	defer h.queue.Unsubscribe(events)

	stats := h.queue.Stats()
	if err := writeEvent(ctx, conn, &queue.Event{Type: EventSnapshot, Stats: &stats, Time: time.Now()}); err != nil {
		slog.Debug("events write", "error", err)
		return
	}

	slog.Debug("events stream open", "remote", c.ClientIP())
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "queue closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				slog.Debug("events write", "error", err)
				return
			}
		case <-ctx.Done():
			slog.Debug("events stream closed", "remote", c.ClientIP())
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev *queue.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
