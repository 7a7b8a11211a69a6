package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/solentra/ordersync-backend/internal/repo"
	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
	"github.com/solentra/ordersync-backend/pkg/pagination"
)

// Repository defines the persistence primitives the engine is built on:
// insert with unique-constraint detection, conditional updates reporting
// affected rows, and point lookups. Any relational store offering those
// suffices; the GORM implementation below targets Postgres in production
// and SQLite in tests.
type Repository interface {
	Insert(ctx context.Context, action *models.SyncAction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	FindByKey(ctx context.Context, key models.IdentityKey) (*models.SyncAction, error)
	Claim(ctx context.Context, params ClaimParams) (bool, error)
	Advance(ctx context.Context, id uuid.UUID, from, to enums.SyncActionState) (bool, error)
	FinalizeSuccess(ctx context.Context, params SuccessParams) (bool, error)
	FinalizeFailure(ctx context.Context, params FailureParams) (bool, error)
	ListEligible(ctx context.Context, filter EligibleFilter) ([]models.SyncAction, error)
	List(ctx context.Context, filter ListFilter) ([]models.SyncAction, *pagination.Cursor, error)
	PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClaimParams carry the inputs of the atomic claim update.
type ClaimParams struct {
	ID      uuid.UUID
	Spec    KindSpec
	Now     time.Time
	LockTTL time.Duration
	Owner   string
}

// SuccessParams finalize a claimed action into its terminal success state.
type SuccessParams struct {
	ID              uuid.UUID
	FromState       enums.SyncActionState
	SuccessState    enums.SyncActionState
	ExternalRef     string
	ResponsePayload []byte
	Now             time.Time
}

// FailureParams finalize a claimed action into its failure state.
type FailureParams struct {
	ID           uuid.UUID
	FromState    enums.SyncActionState
	FailureState enums.SyncActionState
	ErrorCode    string
	ErrorMessage string
	AttemptCount int
	NextRetryAt  *time.Time
	Now          time.Time
}

// ListFilter scopes the cursor-paginated action listing.
type ListFilter struct {
	TenantID   uuid.UUID
	SystemCode string
	Kind       enums.SyncActionKind
	State      enums.SyncActionState
	Pagination pagination.Params
}

// EligibleFilter scopes the retry sweep query: failed rows whose backoff has
// elapsed, plus in-flight rows whose lock predates StaleBefore.
type EligibleFilter struct {
	TenantID    uuid.UUID
	SystemCode  string
	Kind        enums.SyncActionKind
	Now         time.Time
	StaleBefore time.Time
	Limit       int
}

type repository struct {
	base repo.Base
}

// NewRepository builds a sync action repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) Insert(ctx context.Context, action *models.SyncAction) error {
	return r.base.DB(ctx).Create(action).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
	var action models.SyncAction
	err := r.base.DB(ctx).Where("id = ?", id).First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActionNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (r *repository) FindByKey(ctx context.Context, key models.IdentityKey) (*models.SyncAction, error) {
	var action models.SyncAction
	err := r.base.DB(ctx).
		Where("tenant_id = ? AND system_code = ? AND source_entity_id = ? AND kind = ?",
			key.TenantID, key.SystemCode, key.SourceEntityID, key.Kind).
		First(&action).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// Claim is the single conditional update that grants exactly one caller the
// right to execute. The row must be in a claimable state (or failed with its
// retry due) and must not carry a fresh lock; stale locks left by crashed
// workers become reclaimable after the TTL, including rows still parked in a
// distinct in-flight state. RowsAffected reports ownership; no row lock is
// taken and none is needed.
func (r *repository) Claim(ctx context.Context, params ClaimParams) (bool, error) {
	staleBefore := params.Now.Add(-params.LockTTL)
	res := r.base.DB(ctx).Model(&models.SyncAction{}).
		Where("id = ?", params.ID).
		Where("locked_at IS NULL OR locked_at < ?", staleBefore).
		Where("(state IN ? OR (state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?))",
			stateStrings(params.Spec.ClaimableStates()), params.Spec.Failure, params.Now).
		Updates(map[string]any{
			"state":      params.Spec.Inflight,
			"locked_at":  params.Now,
			"locked_by":  params.Owner,
			"updated_at": params.Now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Advance applies a guarded staging transition (e.g. ready -> ready_to_post)
// conditioned on the current persisted state.
func (r *repository) Advance(ctx context.Context, id uuid.UUID, from, to enums.SyncActionState) (bool, error) {
	res := r.base.DB(ctx).Model(&models.SyncAction{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{"state": to})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FinalizeSuccess freezes the record: the guard on external_ref keeps a
// reference minted by an earlier execution from ever being overwritten.
func (r *repository) FinalizeSuccess(ctx context.Context, params SuccessParams) (bool, error) {
	res := r.base.DB(ctx).Model(&models.SyncAction{}).
		Where("id = ? AND state = ? AND external_ref IS NULL", params.ID, params.FromState).
		Updates(map[string]any{
			"state":              params.SuccessState,
			"external_ref":       params.ExternalRef,
			"response_payload":   params.ResponsePayload,
			"last_error_code":    nil,
			"last_error_message": nil,
			"next_retry_at":      nil,
			"locked_at":          nil,
			"locked_by":          nil,
			"updated_at":         params.Now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FinalizeFailure(ctx context.Context, params FailureParams) (bool, error) {
	res := r.base.DB(ctx).Model(&models.SyncAction{}).
		Where("id = ? AND state = ?", params.ID, params.FromState).
		Updates(map[string]any{
			"state":              params.FailureState,
			"attempt_count":      params.AttemptCount,
			"last_error_code":    params.ErrorCode,
			"last_error_message": params.ErrorMessage,
			"next_retry_at":      params.NextRetryAt,
			"locked_at":          nil,
			"locked_by":          nil,
			"updated_at":         params.Now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListEligible surfaces the sweep's work: due failed actions alongside
// abandoned in-flight ones, so calls that started but never finalized are
// recovered by the same cycle that re-arms failures.
func (r *repository) ListEligible(ctx context.Context, filter EligibleFilter) ([]models.SyncAction, error) {
	query := r.base.DB(ctx).Model(&models.SyncAction{}).
		Where("(state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)"+
			" OR (state IN ? AND locked_at IS NOT NULL AND locked_at < ?)",
			enums.SyncActionStateFailed, filter.Now,
			stateStrings(InflightRecoveryStates()), filter.StaleBefore)
	if filter.TenantID != uuid.Nil {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.SystemCode != "" {
		query = query.Where("system_code = ?", filter.SystemCode)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var actions []models.SyncAction
	err := query.Order("next_retry_at ASC").Limit(limit).Find(&actions).Error
	return actions, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.SyncAction, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(filter.Pagination.Limit)
	normalized := pagination.NormalizeLimit(filter.Pagination.Limit)

	query := r.base.DB(ctx).Model(&models.SyncAction{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.SystemCode != "" {
		query = query.Where("system_code = ?", filter.SystemCode)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	cursor, err := pagination.ParseCursor(filter.Pagination.Cursor)
	if err != nil {
		return nil, nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var actions []models.SyncAction
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&actions).Error; err != nil {
		return nil, nil, err
	}

	if len(actions) > normalized {
		next := actions[normalized]
		actions = actions[:normalized]
		return actions, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return actions, nil, nil
}

// PurgeInactiveBefore removes rows that never started (still in an initial
// state) or exhausted their retries, once they age past the cutoff. Rows in
// any other state are never physically deleted.
func (r *repository) PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.base.DB(ctx).
		Where("updated_at < ?", cutoff).
		Where("(state IN ? OR (state = ? AND next_retry_at IS NULL AND attempt_count >= ?))",
			[]string{
				string(enums.SyncActionStateReady),
				string(enums.SyncActionStateRequested),
			},
			enums.SyncActionStateFailed, MaxAttempts).
		Delete(&models.SyncAction{})
	return res.RowsAffected, res.Error
}

func stateStrings(states []enums.SyncActionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
