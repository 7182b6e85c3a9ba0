// Package store persists participant session state on the device running the
// exam: progress, frozen question/option orders and the login identity.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("store: key not found")

// SessionStore is the device-local key/value store. Keys are built with
// config.CacheKey so every key of one participant+exam session shares the
// SessionScopePrefix and can be purged together.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix and reports how many
	// were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// GetJSON reads key and unmarshals it into dest.
func GetJSON(ctx context.Context, s SessionStore, key string, dest interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("store unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and writes it under key.
func SetJSON(ctx context.Context, s SessionStore, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
