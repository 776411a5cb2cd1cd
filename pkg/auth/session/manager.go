package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campushub/campushub-backend/pkg/config"
	redisclient "github.com/campushub/campushub-backend/pkg/redis"
)

const refreshTokenBytes = 32

var ErrInvalidRefreshToken = errors.New("invalid refresh token")

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type sessionKeyer interface {
	RefreshTokenKey(userID string) string
}

// Manager handles refresh token creation, storage, and rotation. Sessions
// are keyed by user, so issuing a new refresh token invalidates the old one.
type Manager struct {
	store sessionStore
	keyer sessionKeyer
	ttl   time.Duration
}

// NewManager constructs a session manager backed by Redis.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	ttl := cfg.RefreshTokenTTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("refresh token ttl must be positive")
	}
	accessTTL := time.Duration(cfg.ExpirationMinutes) * time.Minute
	if ttl <= accessTTL {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, accessTTL)
	}

	return &Manager{
		store: client,
		keyer: client,
		ttl:   ttl,
	}, nil
}

// Generate creates a refresh token for the provided user and stores it in Redis.
func (m *Manager) Generate(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, m.keyer.RefreshTokenKey(userID), token, m.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Rotate validates the provided refresh token and issues a replacement.
func (m *Manager) Rotate(ctx context.Context, userID, provided string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(provided) == "" {
		return "", ErrInvalidRefreshToken
	}

	key := m.keyer.RefreshTokenKey(userID)
	stored, err := m.store.Get(ctx, key)
	if err != nil {
		return "", wrapNotFound(err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) != 1 {
		return "", ErrInvalidRefreshToken
	}

	newToken, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, key, newToken, m.ttl); err != nil {
		return "", err
	}

	return newToken, nil
}

// Revoke deletes the refresh token tied to the user.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return m.store.Del(ctx, m.keyer.RefreshTokenKey(userID))
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func wrapNotFound(err error) error {
	if redisclient.IsNotFound(err) {
		return ErrInvalidRefreshToken
	}
	return err
}
