// Package kv provides the opaque key-value persistence layer the sync engine
// uses to keep its pending-operation queue, message queue and record cache
// durable across restarts. Values are serialized blobs keyed by fixed names;
// the engine never asks the store to understand them.
package kv

import (
	"context"
	"fmt"

	"offline-sync-service/internal/config"
)

type Store interface {
	// Get returns the stored value, or nil (and no error) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func New(cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "sqlite", "":
		return NewSQLiteStore(cfg.FilePath)
	case "mysql":
		return NewMySQLStore(cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state storage type %q", cfg.Type)
	}
}
