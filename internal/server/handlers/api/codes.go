package api

const (
	// Generic request/server errors
	CodeInvalidRequest  = "E_INVALID_REQUEST"   // bad or invalid request
	CodeRateLimited     = "E_RATE_LIMITED"      // rate limit exceeded
	CodeInternalError   = "E_INTERNAL_ERROR"    // internal server error
	CodeAccessDenied    = "E_ACCESS_DENIED"     // access denied
	CodePayloadTooLarge = "E_PAYLOAD_TOO_LARGE" // request body exceeds max_upload_size

	// Auth errors
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // token is invalid, expired, or malformed.

	// Image errors
	CodeUnsupportedMedia = "E_UNSUPPORTED_MEDIA" // the uploaded file is not a supported image.
	CodeImageNotFound    = "E_IMAGE_NOT_FOUND"   // no image with the given id.

	// Blob errors
	CodeBlobPutFailed = "E_BLOB_PUT_OPERATION_FAILED" // a failure while storing image bytes.
	CodeBlobGetFailed = "E_BLOB_GET_OPERATION_FAILED" // a failure while reading image bytes.
)
