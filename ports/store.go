package ports

import "context"

// Store is a string key/value store.
// Get returns core.ErrNotFound when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
