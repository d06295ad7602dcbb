package handlers

import "github.com/gin-gonic/gin"

const (
	CodeOk                string = "OK"
	ErrCodeBadRequest     string = "ERR_BAD_REQUEST"
	ErrCodeUnknownError   string = "ERR_UNKNOWN_ERROR"
	ErrCodeUploadNotFound string = "ERR_UPLOAD_NOT_FOUND"
	ErrCodeInvalidState   string = "ERR_INVALID_STATE"
	ErrCodeQueueClosed    string = "ERR_QUEUE_CLOSED"
	ErrCodeScanFailed     string = "ERR_SCAN_FAILED"
)

type ControlPlaneResponse struct {
	Code string `json:"code"`
}

type ControlPlaneError struct {
	ErrorCode string `json:"code"`
	Error     string `json:"error"`
}

func AbortWithError(c *gin.Context, status int, code string, err error) {
	c.Abort()
	c.Error(err)
	c.PureJSON(status, ControlPlaneError{
		ErrorCode: code,
		Error:     err.Error(),
	})
}
