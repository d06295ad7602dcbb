package auth

import "errors"

var (
	ErrAuthDisabled       = errors.New("auth disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrInvalidSubject     = errors.New("invalid subject")
)
