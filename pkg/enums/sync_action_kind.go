package enums

import "fmt"

// SyncActionKind identifies which external side effect a sync action performs.
type SyncActionKind string

const (
	SyncActionKindDocumentPosting SyncActionKind = "document_posting"
	SyncActionKindLabelIssuance   SyncActionKind = "label_issuance"
	SyncActionKindMarketplacePush SyncActionKind = "marketplace_push"
)

var validSyncActionKinds = []SyncActionKind{
	SyncActionKindDocumentPosting,
	SyncActionKindLabelIssuance,
	SyncActionKindMarketplacePush,
}

// String implements fmt.Stringer.
func (k SyncActionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known SyncActionKind.
func (k SyncActionKind) IsValid() bool {
	for _, candidate := range validSyncActionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseSyncActionKind converts raw input into a SyncActionKind.
func ParseSyncActionKind(value string) (SyncActionKind, error) {
	for _, candidate := range validSyncActionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync action kind %q", value)
}

// SyncActionKinds returns every known kind in declaration order.
func SyncActionKinds() []SyncActionKind {
	kinds := make([]SyncActionKind, len(validSyncActionKinds))
	copy(kinds, validSyncActionKinds)
	return kinds
}
