package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/queue"
)

var (
	errUploadIDRequired = errors.New("upload id is required")
	errUploadNotFound   = errors.New("upload not found")
)

type UploadHandler struct {
	queue *queue.Queue
	// albumID is applied to queued assets that name no album
	albumID string
}

func NewUploadHandler(q *queue.Queue, albumID string) *UploadHandler {
	return &UploadHandler{queue: q, albumID: albumID}
}

// List returns every item in sequence order with the batch stats.
func (h *UploadHandler) List(c *gin.Context) {
	items := h.queue.Items()
	response := make([]UploadItemResponse, 0, len(items))
	for _, item := range items {
		response = append(response, toUploadItemResponse(item))
	}

	c.JSON(http.StatusOK, UploadListResponse{
		Uploads: response,
		Stats:   h.queue.Stats(),
	})
}

func (h *UploadHandler) Get(c *gin.Context) {
	item, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toUploadItemResponse(item))
}

func (h *UploadHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// Enqueue scans the requested paths (or manifest) and appends one item per asset.
func (h *UploadHandler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if len(req.Paths) == 0 && req.Manifest == "" {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errors.New("paths or manifest required"))
		return
	}

	assets, skipped, err := collectAssets(&req)
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeScanFailed, err)
		return
	}
	if len(assets) == 0 {
		AbortWithError(c, http.StatusBadRequest, ErrCodeScanFailed, errors.New("no images found"))
		return
	}

	album := req.AlbumID
	if album == "" {
		album = h.albumID
	}

	payloads := make([]any, 0, len(assets))
	for _, asset := range assets {
		if asset.AlbumID == "" {
			asset.AlbumID = album
		}
		payloads = append(payloads, asset)
	}

	items, err := h.queue.AddToQueue(payloads...)
	if err != nil {
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeQueueClosed, err)
		return
	}
	slog.Info("control plane enqueue", "added", len(items), "skipped", len(skipped), "start", req.Start)

	if req.Start {
		h.queue.StartUploads()
	}

	response := make([]UploadItemResponse, 0, len(items))
	for _, item := range items {
		response = append(response, toUploadItemResponse(item))
	}
	c.JSON(http.StatusCreated, EnqueueResponse{Uploads: response, Skipped: skipped})
}

func (h *UploadHandler) Start(c *gin.Context) {
	h.queue.StartUploads()
	c.JSON(http.StatusOK, BulkResponse{Status: "started", Count: h.queue.Stats().Pending})
}

func (h *UploadHandler) PauseAll(c *gin.Context) {
	paused := h.queue.PauseAll()
	c.JSON(http.StatusOK, BulkResponse{Status: "paused", Count: paused})
}

func (h *UploadHandler) ResumeAll(c *gin.Context) {
	h.queue.ResumeAll()
	c.JSON(http.StatusOK, BulkResponse{Status: "resumed", Count: h.queue.Stats().Pending})
}

func (h *UploadHandler) ClearCompleted(c *gin.Context) {
	cleared := h.queue.ClearCompleted()
	c.JSON(http.StatusOK, BulkResponse{Status: "cleared", Count: cleared})
}

func (h *UploadHandler) Pause(c *gin.Context) {
	h.itemAction(c, "paused", h.queue.PauseItem)
}

func (h *UploadHandler) Resume(c *gin.Context) {
	h.itemAction(c, "resumed", h.queue.ResumeItem)
}

func (h *UploadHandler) Retry(c *gin.Context) {
	h.itemAction(c, "retrying", h.queue.RetryItem)
}

func (h *UploadHandler) Cancel(c *gin.Context) {
	h.itemAction(c, "cancelled", h.queue.CancelItem)
}

func (h *UploadHandler) Remove(c *gin.Context) {
	h.itemAction(c, "removed", h.queue.RemoveFromQueue)
}

// itemAction runs a per item control. A refused transition on an existing
// item is a conflict, an unknown id is a 404.
func (h *UploadHandler) itemAction(c *gin.Context, status string, action func(id string) bool) {
	item, ok := h.lookup(c)
	if !ok {
		return
	}

	if !action(item.ID) {
		current, found := h.queue.Get(item.ID)
		if !found {
			AbortWithError(c, http.StatusNotFound, ErrCodeUploadNotFound, errUploadNotFound)
			return
		}
		AbortWithError(c, http.StatusConflict, ErrCodeInvalidState,
			fmt.Errorf("upload is %s", current.Status))
		return
	}

	c.JSON(http.StatusOK, ItemActionResponse{Status: status})
}

func (h *UploadHandler) lookup(c *gin.Context) (queue.Item, bool) {
	id := c.Param("id")
	if id == "" {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, errUploadIDRequired)
		return queue.Item{}, false
	}

	item, ok := h.queue.Get(id)
	if !ok {
		AbortWithError(c, http.StatusNotFound, ErrCodeUploadNotFound, errUploadNotFound)
		return queue.Item{}, false
	}
	return item, true
}

func collectAssets(req *EnqueueRequest) ([]*photo.Asset, []string, error) {
	var assets []*photo.Asset
	var skipped []string

	if req.Manifest != "" {
		manifest, err := photo.LoadManifest(req.Manifest)
		if err != nil {
			return nil, nil, fmt.Errorf("load manifest: %w", err)
		}
		fromManifest, err := manifest.Assets()
		if err != nil {
			return nil, nil, err
		}
		assets = append(assets, fromManifest...)
	}

	if len(req.Paths) > 0 {
		res, err := photo.Scan(req.Paths...)
		if err != nil {
			return nil, nil, err
		}
		assets = append(assets, res.Assets...)
		skipped = res.Skipped
	}

	return assets, skipped, nil
}

func toUploadItemResponse(item queue.Item) UploadItemResponse {
	resp := UploadItemResponse{Item: item}
	if asset, ok := item.Payload.(*photo.Asset); ok {
		resp.Asset = asset
	}
	return resp
}
