package handlers

import "github.com/openmined/photoqueue/internal/queue"

// StatusResponse represents the health status of the daemon.
type StatusResponse struct {
	Status    string       `json:"status"`    // health status ("ok").
	Timestamp string       `json:"ts"`        // timestamp when health check was performed.
	Version   string       `json:"version"`   // version of the client.
	Revision  string       `json:"revision"`  // revision of the client.
	BuildDate string       `json:"buildDate"` // build date of the client.
	StartedAt string       `json:"startedAt"` // when the daemon came up.
	BatchID   string       `json:"batchId"`
	Stats     *queue.Stats `json:"stats,omitempty"`
}
