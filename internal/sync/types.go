package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind tags a locally recorded mutation.
type OperationKind int

const (
	OpCreate OperationKind = iota
	OpUpdate
	OpDelete
)

func (k OperationKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MarshalJSON persists the kind by name so stored queues survive reordering
// of the constants.
func (k OperationKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *OperationKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "create":
		*k = OpCreate
	case "update":
		*k = OpUpdate
	case "delete":
		*k = OpDelete
	default:
		return fmt.Errorf("unknown operation kind %q", name)
	}
	return nil
}

// PendingOperation is a locally recorded, not-yet-confirmed mutation awaiting
// application against the remote store.
type PendingOperation struct {
	ID         string                 `json:"id"`
	Table      string                 `json:"table"`
	Kind       OperationKind          `json:"kind"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	RecordID   string                 `json:"record_id,omitempty"`
	QueuedAt   time.Time              `json:"queued_at"`
	RetryCount int                    `json:"retry_count"`
}

func (op PendingOperation) String() string {
	return fmt.Sprintf("[%s] %s/%s (retries %d)", op.Kind, op.Table, op.RecordID, op.RetryCount)
}

// Status is the orchestrator's externally visible state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// EventKind tags entries on the orchestrator's event stream.
type EventKind string

const (
	EventOperationQueued          EventKind = "operation_queued"
	EventSyncCompleted            EventKind = "sync_completed"
	EventRealtimeChangeProcessed  EventKind = "realtime_change_processed"
	EventConnectivityChanged      EventKind = "connectivity_changed"
	EventPendingOperationsCleared EventKind = "pending_operations_cleared"
)

// Event is one tagged entry on the event stream. Only the fields relevant to
// the kind are populated.
type Event struct {
	Kind         EventKind `json:"kind"`
	Table        string    `json:"table,omitempty"`
	OperationID  string    `json:"operation_id,omitempty"`
	SuccessCount int       `json:"success_count,omitempty"`
	ErrorCount   int       `json:"error_count,omitempty"`
	Online       bool      `json:"online,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
