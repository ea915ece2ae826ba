package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Category buckets a remote failure for the retry machinery.
type Category int

const (
	// CategoryTransient covers timeouts and unreachable hosts. Retryable.
	CategoryTransient Category = iota
	// CategoryServer covers 5xx-class responses. Retryable.
	CategoryServer
	// CategoryConflict covers duplicate-key and constraint violations.
	// Non-retryable; the operation is dropped with a logged reason.
	CategoryConflict
	// CategoryAuth covers 401/403. Non-retryable; surfaced so the caller can
	// force a re-login.
	CategoryAuth
	// CategoryValidation covers malformed payloads and other 4xx rejections.
	// Non-retryable.
	CategoryValidation
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryServer:
		return "server"
	case CategoryConflict:
		return "conflict"
	case CategoryAuth:
		return "auth"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	Category Category
	Status   int
	Op       string
	Table    string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s %s: %s: %v", e.Op, e.Table, e.Category, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %s (status %d): %s", e.Op, e.Table, e.Category, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure should feed the retry-count
// mechanism instead of dropping the operation outright.
func Retryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Category == CategoryTransient || re.Category == CategoryServer
	}
	// Unclassified errors (cancelled context, surprises) are treated as
	// transient so the operation is not silently discarded.
	return true
}

func categoryForStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status == http.StatusConflict:
		return CategoryConflict
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return CategoryTransient
	case status >= 500:
		return CategoryServer
	default:
		return CategoryValidation
	}
}

// classifyTransport wraps an error from the HTTP round trip itself.
// Timeouts, refused connections and cancelled contexts are all transient:
// the operation stays queued and a later pass retries it.
func classifyTransport(op, table string, err error) *Error {
	return &Error{Category: CategoryTransient, Op: op, Table: table, Err: err}
}
