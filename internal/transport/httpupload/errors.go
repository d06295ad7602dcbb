package httpupload

import (
	"fmt"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/openmined/photoqueue/internal/transport"
)

// APIError is the `{"code", "error"}` body returned by the destination on failure.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("upload rejected: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upload rejected: %d %s: %s", e.Status, e.Code, e.Message)
}

// retryableStatus reports whether a failed response is worth another attempt.
// Client errors are final, except timeouts and throttling.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// classify turns a req response into a transport error, or nil on success.
func classify(resp *req.Response, apiErr *APIError, requestErr error) error {
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		e := &APIError{Status: resp.StatusCode}
		if apiErr != nil && (apiErr.Code != "" || apiErr.Message != "") {
			e.Code, e.Message = apiErr.Code, apiErr.Message
		} else {
			e.Message = http.StatusText(resp.StatusCode)
		}
		if retryableStatus(resp.StatusCode) {
			return e
		}
		return transport.Permanent(e)
	}

	if requestErr != nil {
		return fmt.Errorf("upload request: %w", requestErr)
	}
	return nil
}
