// Package storage provides the durable key/value store the device keeps
// across process restarts. Values are stored as JSON.
package storage

import (
	"context"
)

// Well-known keys.
const (
	KeyBackgroundContext = "background_location_context"
	KeyActiveSessionID   = "active_sharing_session_id"
	KeyPermissionState   = "location_permission_state"
)

// Store is a durable JSON key/value store.
type Store interface {
	// Get decodes the value at key into dest. It reports false when the key
	// is absent.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
