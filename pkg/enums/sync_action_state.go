package enums

import "fmt"

// SyncActionState tracks where a sync action sits in its kind's lifecycle.
// Document posting uses the five ready/ready_to_post/posting_requested/
// posted/failed states; label issuance and marketplace push use the
// requested/issued|pushed/failed triple.
type SyncActionState string

const (
	SyncActionStateReady            SyncActionState = "ready"
	SyncActionStateReadyToPost      SyncActionState = "ready_to_post"
	SyncActionStatePostingRequested SyncActionState = "posting_requested"
	SyncActionStatePosted           SyncActionState = "posted"
	SyncActionStateRequested        SyncActionState = "requested"
	SyncActionStateIssued           SyncActionState = "issued"
	SyncActionStatePushed           SyncActionState = "pushed"
	SyncActionStateFailed           SyncActionState = "failed"
)

var validSyncActionStates = []SyncActionState{
	SyncActionStateReady,
	SyncActionStateReadyToPost,
	SyncActionStatePostingRequested,
	SyncActionStatePosted,
	SyncActionStateRequested,
	SyncActionStateIssued,
	SyncActionStatePushed,
	SyncActionStateFailed,
}

// String implements fmt.Stringer.
func (s SyncActionState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SyncActionState.
func (s SyncActionState) IsValid() bool {
	for _, candidate := range validSyncActionStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSyncActionState converts raw input into a SyncActionState.
func ParseSyncActionState(value string) (SyncActionState, error) {
	for _, candidate := range validSyncActionStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync action state %q", value)
}
