package syncengine

import (
	"fmt"

	"github.com/solentra/ordersync-backend/pkg/enums"
)

// KindSpec describes how one action kind moves through its lifecycle. The
// engine owns one spec per kind; everything else (claiming, retry re-entry,
// finalization) is generic over it.
type KindSpec struct {
	// Initial is the state assigned at creation.
	Initial enums.SyncActionState
	// Claimable lists the non-failure states a claim may start from. For
	// document posting this is ready_to_post, not ready: a freshly created
	// posting must be staged before any worker may pick it up.
	Claimable []enums.SyncActionState
	// Inflight is the state held while the external call is being
	// dispatched. Kinds without a distinct in-flight stage reuse their
	// initial state; the lock columns then carry the claim.
	Inflight enums.SyncActionState
	// Success is the terminal state. No transition leaves it.
	Success enums.SyncActionState
	// Failure is the retryable failure state.
	Failure enums.SyncActionState
	// Transitions is the full directed table; the guard consults nothing
	// else.
	Transitions map[enums.SyncActionState][]enums.SyncActionState
}

var kindSpecs = map[enums.SyncActionKind]KindSpec{
	enums.SyncActionKindDocumentPosting: {
		Initial:   enums.SyncActionStateReady,
		Claimable: []enums.SyncActionState{enums.SyncActionStateReadyToPost},
		Inflight:  enums.SyncActionStatePostingRequested,
		Success:   enums.SyncActionStatePosted,
		Failure:   enums.SyncActionStateFailed,
		Transitions: map[enums.SyncActionState][]enums.SyncActionState{
			enums.SyncActionStateReady:            {enums.SyncActionStateReadyToPost},
			enums.SyncActionStateReadyToPost:      {enums.SyncActionStatePostingRequested},
			enums.SyncActionStatePostingRequested: {enums.SyncActionStatePosted, enums.SyncActionStateFailed},
			enums.SyncActionStateFailed:           {enums.SyncActionStatePostingRequested},
		},
	},
	enums.SyncActionKindLabelIssuance: {
		Initial:   enums.SyncActionStateRequested,
		Claimable: []enums.SyncActionState{enums.SyncActionStateRequested},
		Inflight:  enums.SyncActionStateRequested,
		Success:   enums.SyncActionStateIssued,
		Failure:   enums.SyncActionStateFailed,
		Transitions: map[enums.SyncActionState][]enums.SyncActionState{
			enums.SyncActionStateRequested: {enums.SyncActionStateIssued, enums.SyncActionStateFailed},
			enums.SyncActionStateFailed:    {enums.SyncActionStateRequested},
		},
	},
	enums.SyncActionKindMarketplacePush: {
		Initial:   enums.SyncActionStateRequested,
		Claimable: []enums.SyncActionState{enums.SyncActionStateRequested},
		Inflight:  enums.SyncActionStateRequested,
		Success:   enums.SyncActionStatePushed,
		Failure:   enums.SyncActionStateFailed,
		Transitions: map[enums.SyncActionState][]enums.SyncActionState{
			enums.SyncActionStateRequested: {enums.SyncActionStatePushed, enums.SyncActionStateFailed},
			enums.SyncActionStateFailed:    {enums.SyncActionStateRequested},
		},
	},
}

// ClaimableStates returns every state a claim may start from. The in-flight
// state is included when it is distinct from the claimable set: a row parked
// there under a stale lock was abandoned by a crashed worker mid-call, and
// the claim's lock predicate is what keeps live executions safe.
func (s KindSpec) ClaimableStates() []enums.SyncActionState {
	states := append([]enums.SyncActionState(nil), s.Claimable...)
	if !s.claimableContains(s.Inflight) {
		states = append(states, s.Inflight)
	}
	return states
}

func (s KindSpec) claimableContains(state enums.SyncActionState) bool {
	for _, c := range s.Claimable {
		if c == state {
			return true
		}
	}
	return false
}

// InflightRecoveryStates lists, across all kinds, the in-flight states that
// are distinct from their kind's claimable set. Rows in one of these states
// whose lock has expired started an external call that never finalized.
func InflightRecoveryStates() []enums.SyncActionState {
	seen := map[enums.SyncActionState]bool{}
	var states []enums.SyncActionState
	for _, spec := range kindSpecs {
		if spec.claimableContains(spec.Inflight) || seen[spec.Inflight] {
			continue
		}
		seen[spec.Inflight] = true
		states = append(states, spec.Inflight)
	}
	return states
}

// SpecFor returns the lifecycle spec for the given kind.
func SpecFor(kind enums.SyncActionKind) (KindSpec, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return KindSpec{}, fmt.Errorf("no lifecycle spec for kind %q", kind)
	}
	return spec, nil
}

// States returns every state reachable by the kind, initial state first.
func (s KindSpec) States() []enums.SyncActionState {
	seen := map[enums.SyncActionState]bool{s.Initial: true}
	states := []enums.SyncActionState{s.Initial}
	for from, targets := range s.Transitions {
		for _, state := range append([]enums.SyncActionState{from}, targets...) {
			if !seen[state] {
				seen[state] = true
				states = append(states, state)
			}
		}
	}
	return states
}
