// Package remote is the boundary to the authoritative row store: create,
// update and delete over named tables, each a single round trip. Failures are
// classified into the retryable/non-retryable taxonomy the orchestrator's
// retry machinery depends on.
package remote

import (
	"context"
)

// Record is an opaque row payload. The engine never interprets domain fields;
// it only forwards them.
type Record map[string]interface{}

type API interface {
	Create(ctx context.Context, table string, record Record) (Record, error)
	Update(ctx context.Context, table, recordID string, partial Record) (Record, error)
	Delete(ctx context.Context, table, recordID string) error
}

// MessageSender delivers one queued message with optional context metadata.
// Used by the offline message queue.
type MessageSender interface {
	Send(ctx context.Context, message, msgContext map[string]interface{}) error
}
