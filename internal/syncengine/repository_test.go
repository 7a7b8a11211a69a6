package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
)

func seedAction(t *testing.T, db *gorm.DB, kind enums.SyncActionKind, state enums.SyncActionState, mutate func(*models.SyncAction)) *models.SyncAction {
	t.Helper()
	action := &models.SyncAction{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		SystemCode:     "erp-eu-1",
		SourceEntityID: uuid.New(),
		Kind:           kind,
		State:          state,
	}
	if mutate != nil {
		mutate(action)
	}
	require.NoError(t, db.Create(action).Error)
	return action
}

func TestRepository_FindByKey(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedAction(t, db, enums.SyncActionKindLabelIssuance, enums.SyncActionStateRequested, nil)

	found, err := repo.FindByKey(ctx, seeded.Identity())
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, found.ID)

	missing := seeded.Identity()
	missing.SourceEntityID = uuid.New()
	_, err = repo.FindByKey(ctx, missing)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestRepository_InsertDuplicateKey(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	seeded := seedAction(t, db, enums.SyncActionKindMarketplacePush, enums.SyncActionStateRequested, nil)

	dup := &models.SyncAction{
		ID:             uuid.New(),
		TenantID:       seeded.TenantID,
		SystemCode:     seeded.SystemCode,
		SourceEntityID: seeded.SourceEntityID,
		Kind:           seeded.Kind,
		State:          enums.SyncActionStateRequested,
	}
	err := repo.Insert(ctx, dup)
	require.Error(t, err)
}

func TestRepository_ClaimContention(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	action := seedAction(t, db, enums.SyncActionKindLabelIssuance, enums.SyncActionStateRequested, nil)
	spec, err := SpecFor(action.Kind)
	require.NoError(t, err)

	now := time.Now().UTC()
	const workers = 5
	wins := make([]bool, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i], errs[i] = repo.Claim(ctx, ClaimParams{
				ID:      action.ID,
				Spec:    spec,
				Now:     now,
				LockTTL: 5 * time.Minute,
				Owner:   "worker-" + string(rune('a'+i)),
			})
		}(i)
	}
	wg.Wait()

	won := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		if wins[i] {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one worker owns the claim")
}

func TestRepository_ClaimStaleLockTakeover(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	crashed := now.Add(-10 * time.Minute)
	owner := "worker-dead"
	action := seedAction(t, db, enums.SyncActionKindLabelIssuance, enums.SyncActionStateRequested, func(a *models.SyncAction) {
		a.LockedAt = &crashed
		a.LockedBy = &owner
	})
	spec, err := SpecFor(action.Kind)
	require.NoError(t, err)

	// Fresh locks block.
	won, err := repo.Claim(ctx, ClaimParams{
		ID: action.ID, Spec: spec, Now: crashed.Add(time.Minute), LockTTL: 5 * time.Minute, Owner: "worker-b",
	})
	require.NoError(t, err)
	assert.False(t, won)

	// Past the TTL the lock is stale and another worker takes over.
	won, err = repo.Claim(ctx, ClaimParams{
		ID: action.ID, Spec: spec, Now: now, LockTTL: 5 * time.Minute, Owner: "worker-b",
	})
	require.NoError(t, err)
	assert.True(t, won)

	reloaded, err := repo.FindByID(ctx, action.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LockedBy)
	assert.Equal(t, "worker-b", *reloaded.LockedBy)
}

func TestRepository_ClaimRecoversAbandonedPosting(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	crashed := now.Add(-2 * time.Hour)
	owner := "worker-dead"
	action := seedAction(t, db, enums.SyncActionKindDocumentPosting, enums.SyncActionStatePostingRequested, func(a *models.SyncAction) {
		a.LockedAt = &crashed
		a.LockedBy = &owner
	})
	spec, err := SpecFor(action.Kind)
	require.NoError(t, err)

	// While the lock is fresh the execution is live and must not be stolen.
	won, err := repo.Claim(ctx, ClaimParams{
		ID: action.ID, Spec: spec, Now: crashed.Add(time.Minute), LockTTL: 5 * time.Minute, Owner: "worker-b",
	})
	require.NoError(t, err)
	assert.False(t, won)

	// An in-flight posting whose lock expired was abandoned mid-call; it has
	// no failure record and no retry schedule, yet must be reclaimable.
	won, err = repo.Claim(ctx, ClaimParams{
		ID: action.ID, Spec: spec, Now: now, LockTTL: 5 * time.Minute, Owner: "worker-b",
	})
	require.NoError(t, err)
	assert.True(t, won)

	reloaded, err := repo.FindByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncActionStatePostingRequested, reloaded.State)
	require.NotNil(t, reloaded.LockedBy)
	assert.Equal(t, "worker-b", *reloaded.LockedBy)
}

func TestRepository_ListEligibleSurfacesAbandonedPostings(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	staleBefore := now.Add(-5 * time.Minute)
	crashed := now.Add(-2 * time.Hour)
	live := now.Add(-time.Minute)
	owner := "worker-dead"

	abandoned := seedAction(t, db, enums.SyncActionKindDocumentPosting, enums.SyncActionStatePostingRequested, func(a *models.SyncAction) {
		a.LockedAt = &crashed
		a.LockedBy = &owner
	})
	seedAction(t, db, enums.SyncActionKindDocumentPosting, enums.SyncActionStatePostingRequested, func(a *models.SyncAction) {
		a.LockedAt = &live
		a.LockedBy = &owner
	})
	due := now.Add(-time.Minute)
	failed := seedAction(t, db, enums.SyncActionKindDocumentPosting, enums.SyncActionStateFailed, func(a *models.SyncAction) {
		a.AttemptCount = 1
		a.NextRetryAt = &due
	})

	eligible, err := repo.ListEligible(ctx, EligibleFilter{Now: now, StaleBefore: staleBefore, Limit: 10})
	require.NoError(t, err)

	ids := map[uuid.UUID]bool{}
	for _, a := range eligible {
		ids[a.ID] = true
	}
	require.Len(t, eligible, 2)
	assert.True(t, ids[abandoned.ID], "abandoned in-flight posting is listed")
	assert.True(t, ids[failed.ID], "due failed posting is listed")
}

func TestRepository_ClaimRespectsBackoffSchedule(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	due := now.Add(5 * time.Minute)
	action := seedAction(t, db, enums.SyncActionKindMarketplacePush, enums.SyncActionStateFailed, func(a *models.SyncAction) {
		a.AttemptCount = 2
		a.NextRetryAt = &due
	})
	spec, err := SpecFor(action.Kind)
	require.NoError(t, err)

	won, err := repo.Claim(ctx, ClaimParams{ID: action.ID, Spec: spec, Now: now, LockTTL: 5 * time.Minute, Owner: "w"})
	require.NoError(t, err)
	assert.False(t, won, "retry not yet due")

	won, err = repo.Claim(ctx, ClaimParams{ID: action.ID, Spec: spec, Now: due.Add(time.Second), LockTTL: 5 * time.Minute, Owner: "w"})
	require.NoError(t, err)
	assert.True(t, won)

	reloaded, err := repo.FindByID(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, spec.Inflight, reloaded.State)
}

func TestRepository_ClaimRejectsExhausted(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	action := seedAction(t, db, enums.SyncActionKindMarketplacePush, enums.SyncActionStateFailed, func(a *models.SyncAction) {
		a.AttemptCount = MaxAttempts + 1
		a.NextRetryAt = nil
	})
	spec, err := SpecFor(action.Kind)
	require.NoError(t, err)

	won, err := repo.Claim(ctx, ClaimParams{
		ID: action.ID, Spec: spec, Now: time.Now().UTC().Add(24 * time.Hour), LockTTL: 5 * time.Minute, Owner: "w",
	})
	require.NoError(t, err)
	assert.False(t, won)
}

func TestRepository_FinalizeSuccessIsWriteOnce(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	action := seedAction(t, db, enums.SyncActionKindLabelIssuance, enums.SyncActionStateRequested, nil)
	now := time.Now().UTC()

	ok, err := repo.FinalizeSuccess(ctx, SuccessParams{
		ID:           action.ID,
		FromState:    enums.SyncActionStateRequested,
		SuccessState: enums.SyncActionStateIssued,
		ExternalRef:  "LBL-1",
		Now:          now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A second finalization never overwrites the minted reference.
	ok, err = repo.FinalizeSuccess(ctx, SuccessParams{
		ID:           action.ID,
		FromState:    enums.SyncActionStateIssued,
		SuccessState: enums.SyncActionStateIssued,
		ExternalRef:  "LBL-2",
		Now:          now,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	reloaded, err := repo.FindByID(ctx, action.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ExternalRef)
	assert.Equal(t, "LBL-1", *reloaded.ExternalRef)
}

func TestRepository_PurgeInactiveBefore(t *testing.T) {
	db := setupEngineTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	stale := cutoff.Add(-time.Hour)

	never := seedAction(t, db, enums.SyncActionKindLabelIssuance, enums.SyncActionStateRequested, nil)
	exhausted := seedAction(t, db, enums.SyncActionKindMarketplacePush, enums.SyncActionStateFailed, func(a *models.SyncAction) {
		a.AttemptCount = MaxAttempts + 1
	})
	posted := seedAction(t, db, enums.SyncActionKindDocumentPosting, enums.SyncActionStatePosted, func(a *models.SyncAction) {
		ref := "DOC-1"
		a.ExternalRef = &ref
	})
	for _, id := range []uuid.UUID{never.ID, exhausted.ID, posted.ID} {
		require.NoError(t, db.Model(&models.SyncAction{}).Where("id = ?", id).
			Update("updated_at", stale).Error)
	}
	fresh := seedAction(t, db, enums.SyncActionKindLabelIssuance, enums.SyncActionStateRequested, nil)

	removed, err := repo.PurgeInactiveBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = repo.FindByID(ctx, never.ID)
	assert.Error(t, err, "stale never-started row is purged")
	_, err = repo.FindByID(ctx, exhausted.ID)
	assert.Error(t, err, "stale exhausted row is purged")
	_, err = repo.FindByID(ctx, posted.ID)
	assert.NoError(t, err, "completed rows are kept")
	_, err = repo.FindByID(ctx, fresh.ID)
	assert.NoError(t, err)
}
