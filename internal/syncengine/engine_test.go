package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

func setupEngineTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Single connection keeps the shared in-memory database alive and
	// serializes writes the way a real server would.
	sqlDB.SetMaxOpenConns(1)

	schema := `
CREATE TABLE IF NOT EXISTS sync_actions (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  system_code TEXT NOT NULL,
  source_entity_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  state TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  next_retry_at DATETIME,
  last_error_code TEXT,
  last_error_message TEXT,
  external_ref TEXT,
  request_payload TEXT,
  response_payload TEXT,
  locked_at DATETIME,
  locked_by TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_actions_identity
  ON sync_actions (tenant_id, system_code, source_entity_id, kind);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

type engineClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *engineClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *engineClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, db *gorm.DB) (*Engine, *engineClock) {
	t.Helper()
	clock := &engineClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	engine, err := New(Params{
		Repository: NewRepository(db),
		Logger:     logger.New(logger.Options{ServiceName: "engine-test"}),
		WorkerID:   "test-worker",
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return engine, clock
}

func pushKey(kind enums.SyncActionKind) models.IdentityKey {
	return models.IdentityKey{
		TenantID:       uuid.New(),
		SystemCode:     "erp-eu-1",
		SourceEntityID: uuid.New(),
		Kind:           kind,
	}
}

func TestCreateOrGet_RejectsMalformedKeys(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	missingTenant := pushKey(enums.SyncActionKindMarketplacePush)
	missingTenant.TenantID = uuid.Nil
	_, err := engine.CreateOrGet(ctx, missingTenant, nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	for _, code := range []string{"", "ERP-EU-1", "erp_eu_1", "-erp", "erp-"} {
		badCode := pushKey(enums.SyncActionKindMarketplacePush)
		badCode.SystemCode = code
		_, err := engine.CreateOrGet(ctx, badCode, nil)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, "system code %q", code)
		assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	}
}

func TestCreateOrGet_Idempotent(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	key := pushKey(enums.SyncActionKindMarketplacePush)
	first, err := engine.CreateOrGet(ctx, key, json.RawMessage(`{"tracking":"T1"}`))
	require.NoError(t, err)
	require.Equal(t, enums.SyncActionStateRequested, first.State)
	require.Equal(t, 0, first.AttemptCount)

	for i := 0; i < 9; i++ {
		again, err := engine.CreateOrGet(ctx, key, json.RawMessage(`{"tracking":"DIFFERENT"}`))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		// First writer's payload wins.
		assert.JSONEq(t, `{"tracking":"T1"}`, string(again.RequestPayload))
	}

	var count int64
	require.NoError(t, db.Model(&models.SyncAction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrGet_ConcurrentSameKey(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	key := pushKey(enums.SyncActionKindLabelIssuance)

	const callers = 10
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action, err := engine.CreateOrGet(ctx, key, json.RawMessage(`{}`))
			errs[i] = err
			if err == nil {
				ids[i] = action.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, ids[0], ids[i], "caller %d got a different record", i)
	}

	var count int64
	require.NoError(t, db.Model(&models.SyncAction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrGet_DistinctKeysDoNotCollide(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	key := pushKey(enums.SyncActionKindLabelIssuance)
	other := key
	other.Kind = enums.SyncActionKindMarketplacePush

	first, err := engine.CreateOrGet(ctx, key, nil)
	require.NoError(t, err)
	second, err := engine.CreateOrGet(ctx, other, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.SyncAction{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestExecute_SuccessSetsExternalRef(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindLabelIssuance), nil)
	require.NoError(t, err)

	updated, err := engine.Execute(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		return &CallResult{ExternalRef: "LBL-001", ResponsePayload: json.RawMessage(`{"ok":true}`)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStateIssued, updated.State)
	require.NotNil(t, updated.ExternalRef)
	assert.Equal(t, "LBL-001", *updated.ExternalRef)
	assert.Nil(t, updated.NextRetryAt)
	assert.Nil(t, updated.LockedAt)
	assert.Equal(t, 0, updated.AttemptCount)
}

func TestExecute_NoReExecutionAfterSuccess(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindMarketplacePush), nil)
	require.NoError(t, err)

	var calls atomic.Int32
	call := func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		calls.Add(1)
		return &CallResult{ExternalRef: "PUSH-42"}, nil
	}

	for i := 0; i < 3; i++ {
		updated, err := engine.Execute(ctx, action.ID, call)
		require.NoError(t, err)
		assert.Equal(t, enums.SyncActionStatePushed, updated.State)
		require.NotNil(t, updated.ExternalRef)
		assert.Equal(t, "PUSH-42", *updated.ExternalRef)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_FailureSchedulesRetry(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, clock := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindLabelIssuance), nil)
	require.NoError(t, err)

	updated, err := engine.Execute(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		return nil, &CallError{Code: "CARRIER_TIMEOUT", Message: "upstream deadline exceeded"}
	})
	require.NoError(t, err, "external failures are data, not errors")
	assert.Equal(t, enums.SyncActionStateFailed, updated.State)
	assert.Equal(t, 1, updated.AttemptCount)
	require.NotNil(t, updated.LastErrorCode)
	assert.Equal(t, "CARRIER_TIMEOUT", *updated.LastErrorCode)
	require.NotNil(t, updated.NextRetryAt)
	assert.WithinDuration(t, clock.Now().Add(time.Minute), *updated.NextRetryAt, 2*time.Second)
}

func TestExecute_RetryNotDueBeforeBackoffElapses(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindLabelIssuance), nil)
	require.NoError(t, err)

	_, err = engine.Execute(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		return nil, &CallError{Code: "E1", Message: "boom"}
	})
	require.NoError(t, err)

	// Clock has not advanced past the one-minute backoff.
	_, err = engine.Execute(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		t.Fatal("call must not run while retry is not due")
		return nil, nil
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeRetryNotDue, typed.Code())
}

func TestRetry_EndToEnd(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, clock := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindMarketplacePush), nil)
	require.NoError(t, err)
	require.Equal(t, 0, action.AttemptCount)

	var calls atomic.Int32
	flaky := func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		if calls.Add(1) == 1 {
			return nil, &CallError{Code: "HTTP_502", Message: "bad gateway"}
		}
		return &CallResult{ExternalRef: "TRK-77"}, nil
	}

	failed, err := engine.Execute(ctx, action.ID, flaky)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStateFailed, failed.State)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.NextRetryAt)
	assert.WithinDuration(t, clock.Now().Add(time.Minute), *failed.NextRetryAt, 2*time.Second)

	clock.Advance(2 * time.Minute)

	recovered, err := engine.Retry(ctx, action.ID, flaky)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStatePushed, recovered.State)
	require.NotNil(t, recovered.ExternalRef)
	assert.Equal(t, "TRK-77", *recovered.ExternalRef)
	assert.Nil(t, recovered.NextRetryAt)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetry_RejectsNonFailedStates(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindLabelIssuance), nil)
	require.NoError(t, err)

	_, err = engine.Retry(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		t.Fatal("retry on a non-failed record must not call out")
		return nil, nil
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotRetryable, typed.Code())
}

func TestRetry_RecoversAbandonedPosting(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, clock := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindDocumentPosting), nil)
	require.NoError(t, err)
	_, err = engine.Advance(ctx, action.ID, enums.SyncActionStateReadyToPost)
	require.NoError(t, err)

	// A worker claimed the posting and died before finalizing: the row stays
	// in the in-flight state with its lock columns set.
	lockedAt := clock.Now()
	require.NoError(t, db.Model(&models.SyncAction{}).Where("id = ?", action.ID).
		Updates(map[string]any{
			"state":     enums.SyncActionStatePostingRequested,
			"locked_at": lockedAt,
			"locked_by": "worker-dead",
		}).Error)

	// The lock is still live, so the row is off limits.
	_, err = engine.Retry(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		t.Fatal("a live claim must not be re-executed")
		return nil, nil
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotRetryable, typed.Code())

	clock.Advance(2 * time.Hour)

	recovered, err := engine.Retry(ctx, action.ID, func(_ context.Context, a models.SyncAction) (*CallResult, error) {
		assert.Equal(t, enums.SyncActionStatePostingRequested, a.State)
		return &CallResult{ExternalRef: "DOC-RECOVERED-1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStatePosted, recovered.State)
	require.NotNil(t, recovered.ExternalRef)
	assert.Equal(t, "DOC-RECOVERED-1", *recovered.ExternalRef)

	swept, err := engine.FindEligibleForRetry(ctx, action.TenantID, action.SystemCode, action.Kind, 10)
	require.NoError(t, err)
	assert.Empty(t, swept, "a recovered posting leaves the sweep's view")
}

func TestExecute_DocumentPostingLifecycle(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)
	ctx := context.Background()

	action, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindDocumentPosting), nil)
	require.NoError(t, err)
	require.Equal(t, enums.SyncActionStateReady, action.State)

	// A freshly created posting is not claimable until staged.
	_, err = engine.Execute(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		t.Fatal("unstaged posting must not execute")
		return nil, nil
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeRetryNotDue, typed.Code())

	staged, err := engine.Advance(ctx, action.ID, enums.SyncActionStateReadyToPost)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStateReadyToPost, staged.State)

	var observedState enums.SyncActionState
	posted, err := engine.Execute(ctx, action.ID, func(_ context.Context, a models.SyncAction) (*CallResult, error) {
		observedState = a.State
		return &CallResult{ExternalRef: "DOC-2026-0042"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStatePostingRequested, observedState, "call runs in the in-flight state")
	assert.Equal(t, enums.SyncActionStatePosted, posted.State)
	require.NotNil(t, posted.ExternalRef)
	assert.Equal(t, "DOC-2026-0042", *posted.ExternalRef)

	// Stage-skipping from ready is rejected by the guard.
	fresh, err := engine.CreateOrGet(ctx, pushKey(enums.SyncActionKindDocumentPosting), nil)
	require.NoError(t, err)
	_, err = engine.Advance(ctx, fresh.ID, enums.SyncActionStatePosted)
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestExecute_NotFound(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, _ := newTestEngine(t, db)

	_, err := engine.Execute(context.Background(), uuid.New(), func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		return nil, nil
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestFindEligibleForRetry(t *testing.T) {
	db := setupEngineTestDB(t)
	engine, clock := newTestEngine(t, db)
	ctx := context.Background()

	key := pushKey(enums.SyncActionKindMarketplacePush)
	action, err := engine.CreateOrGet(ctx, key, nil)
	require.NoError(t, err)

	_, err = engine.Execute(ctx, action.ID, func(_ context.Context, _ models.SyncAction) (*CallResult, error) {
		return nil, &CallError{Code: "E1", Message: "down"}
	})
	require.NoError(t, err)

	eligible, err := engine.FindEligibleForRetry(ctx, key.TenantID, key.SystemCode, key.Kind, 10)
	require.NoError(t, err)
	assert.Empty(t, eligible, "backoff has not elapsed yet")

	clock.Advance(2 * time.Minute)
	eligible, err = engine.FindEligibleForRetry(ctx, key.TenantID, key.SystemCode, key.Kind, 10)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, action.ID, eligible[0].ID)
}
