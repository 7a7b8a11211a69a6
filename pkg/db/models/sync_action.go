package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/solentra/ordersync-backend/pkg/enums"
)

// SyncAction is a single logical side effect against an external system:
// one ERP document posting, one carrier label issuance, or one marketplace
// tracking push. The (tenant_id, system_code, source_entity_id, kind) tuple
// is the idempotency key; the ux_sync_actions_identity unique index makes
// re-submissions collide on the same row.
type SyncAction struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_sync_actions_identity"`
	SystemCode     string               `gorm:"column:system_code;not null;uniqueIndex:ux_sync_actions_identity"`
	SourceEntityID uuid.UUID            `gorm:"column:source_entity_id;type:uuid;not null;uniqueIndex:ux_sync_actions_identity"`
	Kind           enums.SyncActionKind `gorm:"column:kind;not null;uniqueIndex:ux_sync_actions_identity"`

	// State is mutated only through the engine's transition guard.
	State        enums.SyncActionState `gorm:"column:state;not null"`
	AttemptCount int                   `gorm:"column:attempt_count;not null;default:0"`
	NextRetryAt  *time.Time            `gorm:"column:next_retry_at"`

	LastErrorCode    *string `gorm:"column:last_error_code"`
	LastErrorMessage *string `gorm:"column:last_error_message"`

	// ExternalRef is the identifier minted by the external system (ERP
	// document number, tracking number). Write-once: a successful execution
	// sets it and no later execution may overwrite it.
	ExternalRef *string `gorm:"column:external_ref"`

	RequestPayload  json.RawMessage `gorm:"column:request_payload;type:jsonb"`
	ResponsePayload json.RawMessage `gorm:"column:response_payload;type:jsonb"`

	// Claim marker. A worker owns execution while locked_at is fresh;
	// stale locks are reclaimable after the configured TTL.
	LockedAt *time.Time `gorm:"column:locked_at"`
	LockedBy *string    `gorm:"column:locked_by"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// IdentityKey groups the columns that make up the idempotency key.
type IdentityKey struct {
	TenantID       uuid.UUID
	SystemCode     string
	SourceEntityID uuid.UUID
	Kind           enums.SyncActionKind
}

// Identity returns the action's idempotency key components.
func (a SyncAction) Identity() IdentityKey {
	return IdentityKey{
		TenantID:       a.TenantID,
		SystemCode:     a.SystemCode,
		SourceEntityID: a.SourceEntityID,
		Kind:           a.Kind,
	}
}
