package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NewAccessToken issues an upload token for subject, optionally restricted to an album.
func NewAccessToken(subject, album string, config *Config) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrInvalidSubject
	}
	return NewToken(subject, album, config.TokenIssuer, config.AccessTokenSecret, config.AccessTokenExpiry, AccessToken)
}

func NewToken(subject, album, issuer, jwtSecret string, expiry time.Duration, tokenType AuthTokenType) (string, error) {
	var expiryTime *jwt.NumericDate

	if expiry > 0 {
		expiryTime = jwt.NewNumericDate(time.Now().Add(expiry))
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: expiryTime,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Type:  tokenType,
		Album: album,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
