package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/solentra/ordersync-backend/pkg/db"
	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
	"github.com/solentra/ordersync-backend/pkg/metrics"
	"github.com/solentra/ordersync-backend/pkg/pagination"
)

const identityConstraint = "ux_sync_actions_identity"

// CallResult is what a connector returns when the external system accepted
// the action: the reference it minted plus the raw response for audit.
type CallResult struct {
	ExternalRef     string
	ResponsePayload json.RawMessage
}

// CallError is a failure reported by a connector. The engine records code
// and message verbatim and never branches on their content.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return e.Code + ": " + e.Message
}

// CallFunc performs the external side effect for one action. Implementations
// enforce their own deadline and return a failure when they abandon the call.
type CallFunc func(ctx context.Context, action models.SyncAction) (*CallResult, error)

// EventSink receives lifecycle notifications once the corresponding row
// change has been persisted.
type EventSink interface {
	ActionCreated(ctx context.Context, action models.SyncAction)
	ActionSucceeded(ctx context.Context, action models.SyncAction)
	ActionFailed(ctx context.Context, action models.SyncAction)
	ActionExhausted(ctx context.Context, action models.SyncAction)
}

// Params configure the engine.
type Params struct {
	Repository Repository
	Logger     *logger.Logger
	Metrics    *metrics.SyncEngineMetrics
	Events     EventSink
	LockTTL    time.Duration
	WorkerID   string
	Now        func() time.Time
}

// Engine is the shared idempotent-action pipeline. All three action kinds run
// through the same code; only their KindSpec differs.
type Engine struct {
	repo    Repository
	logg    *logger.Logger
	metrics *metrics.SyncEngineMetrics
	events  EventSink
	lockTTL time.Duration
	worker  string
	now     func() time.Time
}

const defaultLockTTL = 5 * time.Minute

// New builds an engine.
func New(params Params) (*Engine, error) {
	if params.Repository == nil {
		return nil, errors.New("repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	worker := params.WorkerID
	if worker == "" {
		worker = "engine-0"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:    params.Repository,
		logg:    params.Logger,
		metrics: params.Metrics,
		events:  params.Events,
		lockTTL: lockTTL,
		worker:  worker,
		now:     now,
	}, nil
}

// CreateOrGet returns the single action for the given identity, inserting it
// in the kind's initial state when absent. Losing a concurrent insert race is
// a normal outcome: the violation is swallowed and the winning row returned,
// so N concurrent callers all receive the same record. The first writer's
// payload wins; later payloads are ignored.
func (e *Engine) CreateOrGet(ctx context.Context, key models.IdentityKey, requestPayload json.RawMessage) (*models.SyncAction, error) {
	if key.TenantID == uuid.Nil || key.SourceEntityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and source entity are required")
	}
	if !enums.IsValidSystemCode(key.SystemCode) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid system code").
			WithDetails(map[string]string{"system_code": key.SystemCode})
	}
	if existing, err := e.repo.FindByKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	spec, err := SpecFor(key.Kind)
	if err != nil {
		return nil, err
	}

	action := &models.SyncAction{
		ID:             uuid.New(),
		TenantID:       key.TenantID,
		SystemCode:     key.SystemCode,
		SourceEntityID: key.SourceEntityID,
		Kind:           key.Kind,
		State:          spec.Initial,
		RequestPayload: requestPayload,
	}
	if err := e.repo.Insert(ctx, action); err != nil {
		if dbpkg.IsUniqueViolation(err, identityConstraint) {
			return e.repo.FindByKey(ctx, key)
		}
		return nil, err
	}

	logCtx := e.actionCtx(ctx, action)
	e.logg.Info(logCtx, "sync action created")
	if e.events != nil {
		e.events.ActionCreated(ctx, *action)
	}
	return action, nil
}

// GetByID loads one action.
func (e *Engine) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
	return e.repo.FindByID(ctx, id)
}

// GetByKey loads one action by its idempotency key; the bool reports presence.
func (e *Engine) GetByKey(ctx context.Context, key models.IdentityKey) (*models.SyncAction, bool, error) {
	action, err := e.repo.FindByKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return action, true, nil
}

// FindEligibleForRetry returns failed actions whose backoff has elapsed and
// in-flight actions whose lock has expired, scoped to the given
// tenant/system when provided.
func (e *Engine) FindEligibleForRetry(ctx context.Context, tenantID uuid.UUID, systemCode string, kind enums.SyncActionKind, limit int) ([]models.SyncAction, error) {
	now := e.now().UTC()
	return e.repo.ListEligible(ctx, EligibleFilter{
		TenantID:    tenantID,
		SystemCode:  systemCode,
		Kind:        kind,
		Now:         now,
		StaleBefore: now.Add(-e.lockTTL),
		Limit:       limit,
	})
}

// ListActions returns a tenant-scoped, cursor-paginated page of actions.
func (e *Engine) ListActions(ctx context.Context, filter ListFilter) ([]models.SyncAction, *pagination.Cursor, error) {
	if filter.TenantID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	return e.repo.List(ctx, filter)
}

// Advance applies a caller-driven staging transition, e.g. moving a document
// posting from ready to ready_to_post once its payload is approved.
func (e *Engine) Advance(ctx context.Context, id uuid.UUID, to enums.SyncActionState) (*models.SyncAction, error) {
	action, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := GuardTransition(action.Kind, action.State, to); err != nil {
		return nil, err
	}
	moved, err := e.repo.Advance(ctx, id, action.State, to)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Lost a race against another transition; surface the current truth.
		current, ferr := e.repo.FindByID(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		return nil, ErrInvalidTransition(current.Kind, current.State, to)
	}
	return e.repo.FindByID(ctx, id)
}

// Execute runs the action's external call at most once for the current
// attempt. A record already in terminal success is returned unchanged and the
// call is never invoked again. External call failures come back as a failed
// record, not an error: failures are data at this layer.
func (e *Engine) Execute(ctx context.Context, id uuid.UUID, call CallFunc) (*models.SyncAction, error) {
	action, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	spec, err := SpecFor(action.Kind)
	if err != nil {
		return nil, err
	}
	if action.State == spec.Success {
		return action, nil
	}

	now := e.now().UTC()
	claimed, err := e.repo.Claim(ctx, ClaimParams{
		ID:      id,
		Spec:    spec,
		Now:     now,
		LockTTL: e.lockTTL,
		Owner:   e.worker,
	})
	if err != nil {
		return nil, err
	}
	e.observeClaim(action.Kind, claimed)
	if !claimed {
		current, ferr := e.repo.FindByID(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		if current.State == spec.Success {
			return current, nil
		}
		return current, ErrRetryNotDue(current.State)
	}

	claimedAction, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	logCtx := e.actionCtx(ctx, claimedAction)
	result, callErr := call(ctx, *claimedAction)
	if callErr != nil {
		e.observeExecution(action.Kind, "failure")
		return e.scheduleRetry(logCtx, claimedAction, spec, callErr)
	}
	e.observeExecution(action.Kind, "success")
	return e.scheduleSuccess(logCtx, claimedAction, spec, result)
}

// Retry re-runs a failed action, or one abandoned mid-call under an expired
// lock. It fails fast with a typed error otherwise; eligibility (backoff
// elapsed, no live claim) is still enforced by the claim itself.
func (e *Engine) Retry(ctx context.Context, id uuid.UUID, call CallFunc) (*models.SyncAction, error) {
	action, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	spec, err := SpecFor(action.Kind)
	if err != nil {
		return nil, err
	}
	if action.State != spec.Failure && !e.staleInflight(action, spec) {
		return nil, ErrNotRetryable(action.State)
	}
	return e.Execute(ctx, id, call)
}

// staleInflight reports whether the action sits in a distinct in-flight
// state under a lock old enough to have expired. Such a row belongs to a
// worker that crashed between claiming and finalizing.
func (e *Engine) staleInflight(action *models.SyncAction, spec KindSpec) bool {
	if action.State != spec.Inflight || spec.claimableContains(spec.Inflight) {
		return false
	}
	return action.LockedAt != nil && action.LockedAt.Before(e.now().UTC().Add(-e.lockTTL))
}

func (e *Engine) scheduleSuccess(ctx context.Context, action *models.SyncAction, spec KindSpec, result *CallResult) (*models.SyncAction, error) {
	if result == nil || result.ExternalRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "connector returned success without an external reference")
	}
	if err := GuardTransition(action.Kind, action.State, spec.Success); err != nil {
		return nil, err
	}
	finalized, err := e.repo.FinalizeSuccess(ctx, SuccessParams{
		ID:              action.ID,
		FromState:       action.State,
		SuccessState:    spec.Success,
		ExternalRef:     result.ExternalRef,
		ResponsePayload: result.ResponsePayload,
		Now:             e.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !finalized {
		// Either the state moved underneath us or external_ref was already
		// set by an earlier execution; refusing beats overwriting.
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "success finalization refused").
			WithDetails(map[string]any{"id": action.ID.String(), "from": action.State})
	}

	updated, err := e.repo.FindByID(ctx, action.ID)
	if err != nil {
		return nil, err
	}
	e.logg.Info(ctx, "sync action succeeded")
	if e.events != nil {
		e.events.ActionSucceeded(ctx, *updated)
	}
	return updated, nil
}

func (e *Engine) scheduleRetry(ctx context.Context, action *models.SyncAction, spec KindSpec, callErr error) (*models.SyncAction, error) {
	if err := GuardTransition(action.Kind, action.State, spec.Failure); err != nil {
		return nil, err
	}

	code, message := callErrorFields(callErr)
	now := e.now().UTC()

	// The delay is looked up with the attempt count before increment: the
	// Nth failure reads table entry N. Past the cap the record parks with
	// next_retry_at NULL until someone re-arms it.
	var nextRetryAt *time.Time
	attempts := action.AttemptCount + 1
	if delay, ok := RetryDelay(action.AttemptCount); ok {
		at := now.Add(delay)
		nextRetryAt = &at
	}

	finalized, err := e.repo.FinalizeFailure(ctx, FailureParams{
		ID:           action.ID,
		FromState:    action.State,
		FailureState: spec.Failure,
		ErrorCode:    code,
		ErrorMessage: message,
		AttemptCount: attempts,
		NextRetryAt:  nextRetryAt,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}
	if !finalized {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "failure finalization refused").
			WithDetails(map[string]any{"id": action.ID.String(), "from": action.State})
	}

	updated, err := e.repo.FindByID(ctx, action.ID)
	if err != nil {
		return nil, err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"attempt_count": updated.AttemptCount,
		"error_code":    code,
	})
	if updated.NextRetryAt == nil {
		e.logg.Warn(logCtx, "sync action exhausted automatic retries")
		if e.events != nil {
			e.events.ActionExhausted(ctx, *updated)
		}
	} else {
		e.logg.Info(logCtx, "sync action failed; retry scheduled")
		if e.events != nil {
			e.events.ActionFailed(ctx, *updated)
		}
	}
	return updated, nil
}

func (e *Engine) actionCtx(ctx context.Context, action *models.SyncAction) context.Context {
	return e.logg.WithFields(ctx, map[string]any{
		"action_id":   action.ID.String(),
		"kind":        action.Kind,
		"tenant_id":   action.TenantID.String(),
		"system_code": action.SystemCode,
	})
}

func (e *Engine) observeClaim(kind enums.SyncActionKind, won bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveClaim(string(kind), won)
}

func (e *Engine) observeExecution(kind enums.SyncActionKind, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveExecution(string(kind), outcome)
}

func callErrorFields(err error) (string, string) {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Code, callErr.Message
	}
	return "EXTERNAL_CALL_FAILED", err.Error()
}
