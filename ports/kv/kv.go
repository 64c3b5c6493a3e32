// Package kv defines a minimal versioned key-value port with an in-memory
// implementation. Revisions enable compare-and-swap updates.
package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrRevisionMismatch is returned by Update when the stored revision does
	// not match the expected one.
	ErrRevisionMismatch = errors.New("revision mismatch")
)

type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Put stores value unconditionally and returns the new revision.
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	// Create stores value only if the key does not exist.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update stores value only if the current revision matches rev.
	Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
}
