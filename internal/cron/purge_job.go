package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

const defaultPurgeAfterDays = 90

// PurgeJobParams configure the sync action purge.
type PurgeJobParams struct {
	Logger        *logger.Logger
	Repository    syncengine.Repository
	RetentionDays int
}

// NewPurgeJob builds a job that deletes sync actions nothing will ever touch
// again: rows still in their initial state that nobody staged or executed,
// and rows that exhausted their retries, once they age past retention.
func NewPurgeJob(params PurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("sync action repository required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = defaultPurgeAfterDays
	}
	return &purgeJob{
		logg: params.Logger,
		repo: params.Repository,
		days: days,
		now:  time.Now,
	}, nil
}

type purgeJob struct {
	logg *logger.Logger
	repo syncengine.Repository
	days int
	now  func() time.Time
}

func (j *purgeJob) Name() string { return "sync-action-purge" }

func (j *purgeJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.days) * 24 * time.Hour)
	deleted, err := j.repo.PurgeInactiveBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sync action purge: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.days,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "sync action purge complete")
	return nil
}
