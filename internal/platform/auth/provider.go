// Package auth supplies bearer tokens to outbound API requests. Components
// that talk to the API receive a Provider explicitly instead of reading a
// token from ambient storage.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("auth token has expired")

// Provider returns the bearer token to attach to a request. An empty token
// with a nil error means "send the request unauthenticated".
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static is a fixed token.
type Static string

func (s Static) Token(_ context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if err := checkExpiry(tok, time.Now()); err != nil {
		return "", err
	}
	return tok, nil
}

// FileProvider reads the token from a file on every call so that a token
// refreshed by another process is picked up.
type FileProvider struct {
	path string
	now  func() time.Time
}

// NewFileProvider creates a FileProvider for path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, now: time.Now}
}

// Token returns the trimmed file content. A missing file yields no token.
func (p *FileProvider) Token(_ context.Context) (string, error) {
	if p.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if err := checkExpiry(tok, p.now()); err != nil {
		return "", err
	}
	return tok, nil
}

// Chain returns the first non-empty token from providers, in order.
func Chain(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context) (string, error) {
		for _, p := range providers {
			if p == nil {
				continue
			}
			tok, err := p.Token(ctx)
			if err != nil {
				return "", err
			}
			if tok != "" {
				return tok, nil
			}
		}
		return "", nil
	})
}

// checkExpiry rejects JWTs whose exp claim is in the past. The signature is
// not verified; that is the server's job. Opaque tokens are passed through.
func checkExpiry(token string, now time.Time) error {
	if token == "" || strings.Count(token, ".") != 2 {
		return nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}
