package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type AuthTokenType string

const (
	// AccessToken authorizes uploads. It is the only type the server accepts.
	AccessToken AuthTokenType = "access"
)

type Claims struct {
	Type  AuthTokenType `json:"type"`
	Album string        `json:"album,omitempty"`
	jwt.RegisteredClaims
}

func ParseClaims(tokenString, jwtSecret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
