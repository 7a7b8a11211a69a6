package syncengine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/solentra/ordersync-backend/pkg/enums"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
)

// ErrInvalidTransition reports an attempted transition that is not present in
// the action kind's table. This is always an ordering bug at the call site.
func ErrInvalidTransition(kind enums.SyncActionKind, from, to enums.SyncActionState) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("invalid transition %s -> %s for %s", from, to, kind)).
		WithDetails(map[string]any{"kind": kind, "from": from, "to": to})
}

// ErrActionNotFound reports a lookup that matched no sync action.
func ErrActionNotFound(id uuid.UUID) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotFound,
		fmt.Sprintf("sync action %s not found", id)).
		WithDetails(map[string]any{"id": id.String()})
}

// ErrNotRetryable reports a retry request against an action that is not in
// its kind's retryable failure state.
func ErrNotRetryable(state enums.SyncActionState) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeNotRetryable,
		fmt.Sprintf("action in state %s cannot be retried", state)).
		WithDetails(map[string]any{"state": state})
}

// ErrRetryNotDue reports a claim miss on an action that exists but is not
// currently eligible: owned by another worker, waiting out its backoff, or
// exhausted. Distinct from an internal error so sweep callers can skip it.
func ErrRetryNotDue(state enums.SyncActionState) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeRetryNotDue,
		fmt.Sprintf("action in state %s is not eligible for execution", state)).
		WithDetails(map[string]any{"state": state})
}
