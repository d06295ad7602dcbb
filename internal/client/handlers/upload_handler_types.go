package handlers

import (
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/queue"
)

// UploadItemResponse is a queue item together with the asset it carries.
type UploadItemResponse struct {
	queue.Item
	Asset *photo.Asset `json:"asset,omitempty"`
}

type UploadListResponse struct {
	Uploads []UploadItemResponse `json:"uploads"`
	Stats   queue.Stats          `json:"stats"`
}

// EnqueueRequest adds local files to the queue. Paths may be files,
// directories or globs. Manifest points to a YAML manifest instead.
type EnqueueRequest struct {
	Paths    []string `json:"paths"`
	Manifest string   `json:"manifest"`
	AlbumID  string   `json:"albumId"`
	// Start begins dispatching right after the items are queued.
	Start bool `json:"start"`
}

type EnqueueResponse struct {
	Uploads []UploadItemResponse `json:"uploads"`
	Skipped []string             `json:"skipped,omitempty"`
}

type BulkResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type ItemActionResponse struct {
	Status string `json:"status"`
}
