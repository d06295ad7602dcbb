package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	validatedCacheSize = 1024
	validatedCacheTTL  = time.Minute
)

type AuthService struct {
	config    *Config
	validated *expirable.LRU[string, *Claims]
}

func NewAuthService(config *Config) *AuthService {
	return &AuthService{
		config:    config,
		validated: expirable.NewLRU[string, *Claims](validatedCacheSize, nil, validatedCacheTTL),
	}
}

func (s *AuthService) IsEnabled() bool {
	return s.config.Enabled
}

// IssueAccessToken signs a new access token. Used by the `token` command.
func (s *AuthService) IssueAccessToken(ctx context.Context, subject, album string) (string, error) {
	if !s.IsEnabled() {
		return "", ErrAuthDisabled
	}
	return NewAccessToken(subject, album, s.config)
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}

	if claims, ok := s.validated.Get(accessToken); ok {
		// cached entries may outlive a short token expiry
		if claims.ExpiresAt == nil || claims.ExpiresAt.After(time.Now()) {
			return claims, nil
		}
		s.validated.Remove(accessToken)
	}

	claims, err := ParseClaims(accessToken, s.config.AccessTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}

	if claims.Type != AccessToken {
		return nil, fmt.Errorf("%w: wrong token type got %q", ErrInvalidAccessToken, claims.Type)
	}

	if s.config.TokenIssuer != "" && claims.Issuer != s.config.TokenIssuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidAccessToken, claims.Issuer)
	}

	s.validated.Add(accessToken, claims)
	return claims, nil
}
