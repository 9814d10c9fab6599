package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no value exists for the key.
var ErrNotFound = errors.New("storage: not found")

// Backend is durable keyed storage for small opaque records.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ConditionalDeleter is implemented by backends that can read a value and
// delete it in one atomic step. drop is called with the stored value; when it
// returns true the value is removed before any other writer can observe it.
type ConditionalDeleter interface {
	LoadAndDeleteIf(ctx context.Context, key string, drop func([]byte) bool) (value []byte, deleted bool, err error)
}
