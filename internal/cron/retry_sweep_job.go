package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/solentra/ordersync-backend/pkg/db/models"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

const defaultSweepBatchSize = 50

// retrySweeper is the slice of a kind service the sweep needs: list failed
// actions whose backoff elapsed, then re-run them.
type retrySweeper interface {
	ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
}

// RetrySweepJobParams configure one sweep job; each action kind runs its own.
type RetrySweepJobParams struct {
	Name      string
	Logger    *logger.Logger
	Sweeper   retrySweeper
	BatchSize int
}

// NewRetrySweepJob builds a job that drains one batch of due retries per run.
func NewRetrySweepJob(params RetrySweepJobParams) (Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &retrySweepJob{
		name:    params.Name,
		logg:    params.Logger,
		sweeper: params.Sweeper,
		batch:   batch,
	}, nil
}

type retrySweepJob struct {
	name    string
	logg    *logger.Logger
	sweeper retrySweeper
	batch   int
}

func (j *retrySweepJob) Name() string { return j.name }

func (j *retrySweepJob) Run(ctx context.Context) error {
	// Unscoped listing: all tenants and systems in one pass.
	due, err := j.sweeper.ListRetryable(ctx, uuid.Nil, "", j.batch)
	if err != nil {
		return fmt.Errorf("listing retryable actions: %w", err)
	}

	var errs []error
	retried, skipped, failedAgain := 0, 0, 0
	for _, action := range due {
		updated, err := j.sweeper.Retry(ctx, action.ID)
		if err != nil {
			// Another worker may have claimed or resolved the record since
			// the listing; both are normal sweep outcomes.
			if typed := pkgerrors.As(err); typed != nil &&
				(typed.Code() == pkgerrors.CodeRetryNotDue || typed.Code() == pkgerrors.CodeNotRetryable) {
				skipped++
				continue
			}
			j.logg.Error(j.logg.WithField(ctx, "action_id", action.ID.String()),
				"sweep retry errored", err)
			errs = append(errs, fmt.Errorf("retrying action %s: %w", action.ID, err))
			continue
		}
		if updated.LastErrorCode != nil {
			failedAgain++
		} else {
			retried++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":          len(due),
		"succeeded":    retried,
		"failed_again": failedAgain,
		"skipped":      skipped,
		"errored":      len(errs),
	})
	j.logg.Info(logCtx, "retry sweep complete")
	return multierr.Combine(errs...)
}
