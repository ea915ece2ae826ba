package sync

import (
	"time"
)

// Verdict is the resolver's decision for one pending operation.
type Verdict int

const (
	// VerdictRetain keeps the operation queued; the next pass will send it,
	// potentially overwriting the remote value. Races can happen; last write
	// wins by timestamp, not by arrival order.
	VerdictRetain Verdict = iota
	// VerdictDiscard drops the operation because the remote change is newer.
	VerdictDiscard
)

func (v Verdict) String() string {
	if v == VerdictDiscard {
		return "discard"
	}
	return "retain"
}

// ConflictResolver decides, for a locally queued mutation and an incoming
// remote change on the same (table, recordID), which side wins. Only
// operations queued within the conflict window are ever considered; anything
// older is assumed already superseded and left to the ordinary sync path.
type ConflictResolver struct {
	window time.Duration
}

func NewConflictResolver(window time.Duration) *ConflictResolver {
	return &ConflictResolver{window: window}
}

// Resolve is pure: it compares timestamps and returns a verdict.
func (r *ConflictResolver) Resolve(op PendingOperation, remoteModified, now time.Time) Verdict {
	if now.Sub(op.QueuedAt) > r.window {
		return VerdictRetain
	}
	if remoteModified.After(op.QueuedAt) {
		return VerdictDiscard
	}
	return VerdictRetain
}

// Candidates filters a queue snapshot down to the operations targeting the
// same row as a remote change.
func (r *ConflictResolver) Candidates(ops []PendingOperation, table, recordID string) []PendingOperation {
	var out []PendingOperation
	for _, op := range ops {
		if op.Table == table && op.RecordID == recordID {
			out = append(out, op)
		}
	}
	return out
}
