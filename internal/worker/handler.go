package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"driftsync.app/core/internal/model"
)

// ApplyResult is what a domain handler produced: the local entity ID the
// payload was applied to, plus any handler-specific details worth keeping
// on the queue entry.
type ApplyResult struct {
	TargetEntityID *string
	Details        map[string]any
}

// Handler applies one validated payload to local storage. Handlers must be
// idempotent: the same entry may be delivered more than once.
type Handler func(ctx context.Context, entry *model.QueueEntry) (ApplyResult, error)

// PermanentError marks a failure that retrying cannot fix, e.g. a payload
// referencing an entity that no longer exists. The entry goes straight to
// the dead-letter store regardless of remaining retry budget.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable failure.
func Permanent(code string, err error) error {
	return &PermanentError{Code: code, Err: err}
}

// Registry maps entity types to their domain handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(entityType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entityType] = handler
}

func (r *Registry) Get(entityType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[entityType]
	return h, ok
}

func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// classifyFailure splits an apply error into its retryability and optional
// error code.
func classifyFailure(err error) (retryable bool, code *string) {
	var pErr *PermanentError
	if errors.As(err, &pErr) {
		return false, &pErr.Code
	}
	return true, nil
}
