// Package secrets stores the Google refresh token in the OS keyring for
// installations that prefer not to keep long-lived credentials on disk
// (token_backend: keyring).
package secrets

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	serviceName     = "photosync"
	refreshTokenKey = "google-refresh-token"
)

// Store wraps an OS keyring. It satisfies googleauth.RefreshTokenStore.
type Store struct {
	ring keyring.Keyring
}

// OpenDefault opens the platform keyring for photosync.
func OpenDefault() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// GetRefreshToken returns the stored refresh token, or "" when none exists.
func (s *Store) GetRefreshToken() (string, error) {
	item, err := s.ring.Get(refreshTokenKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return string(item.Data), nil
}

func (s *Store) SetRefreshToken(token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   refreshTokenKey,
		Data:  []byte(token),
		Label: "photosync Google refresh token",
	})
	if err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

func (s *Store) DeleteRefreshToken() error {
	err := s.ring.Remove(refreshTokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("remove keyring entry: %w", err)
	}
	return nil
}
