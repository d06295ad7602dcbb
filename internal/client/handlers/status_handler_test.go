package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/openmined/photoqueue/internal/photo"
	"github.com/openmined/photoqueue/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHandler_Status(t *testing.T) {
	q := newTestQueue(t, blockingTransport)
	_, err := q.AddToQueue(&photo.Asset{Name: "a.png"}, &photo.Asset{Name: "b.png"})
	require.NoError(t, err)

	handler := NewStatusHandler(q)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	handler.Status(c)

	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, version.Version, resp.Version)
	assert.Equal(t, q.BatchID(), resp.BatchID)
	assert.NotEmpty(t, resp.StartedAt)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 2, resp.Stats.Pending)
}

func TestStatusHandler_NoQueue(t *testing.T) {
	handler := NewStatusHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	handler.Status(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeUnknownError, decodeError(t, w).ErrorCode)
}
