package syncengine

import (
	"github.com/solentra/ordersync-backend/pkg/enums"
)

// CanTransition reports whether the kind's table allows from -> to.
func CanTransition(kind enums.SyncActionKind, from, to enums.SyncActionState) bool {
	spec, err := SpecFor(kind)
	if err != nil {
		return false
	}
	for _, target := range spec.Transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// GuardTransition validates from -> to against the kind's table and returns
// the typed state-conflict error on violation. It is the only legal path to
// a state change; repositories apply the result as a conditional update
// guarded on the current persisted state, so a record whose state moved
// underneath the caller fails the update rather than regressing.
func GuardTransition(kind enums.SyncActionKind, from, to enums.SyncActionState) error {
	if !CanTransition(kind, from, to) {
		return ErrInvalidTransition(kind, from, to)
	}
	return nil
}
