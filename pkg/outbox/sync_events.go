package outbox

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SyncActionEventData is the payload carried by sync action lifecycle events.
type SyncActionEventData struct {
	ActionID       string  `json:"actionId"`
	TenantID       string  `json:"tenantId"`
	SystemCode     string  `json:"systemCode"`
	SourceEntityID string  `json:"sourceEntityId"`
	Kind           string  `json:"kind"`
	State          string  `json:"state"`
	AttemptCount   int     `json:"attemptCount"`
	ExternalRef    *string `json:"externalRef,omitempty"`
	LastErrorCode  *string `json:"lastErrorCode,omitempty"`
}

// SyncEventPublisher turns engine lifecycle notifications into outbox rows.
// Emission happens after the engine's own row change committed, so a lost
// event costs a dashboard update, never pipeline correctness.
type SyncEventPublisher struct {
	svc    *Service
	db     txRunner
	logg   *logger.Logger
	worker string
}

// NewSyncEventPublisher wires the engine event sink to the outbox.
func NewSyncEventPublisher(svc *Service, db txRunner, logg *logger.Logger, workerID string) (*SyncEventPublisher, error) {
	if svc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if db == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &SyncEventPublisher{svc: svc, db: db, logg: logg, worker: workerID}, nil
}

func (p *SyncEventPublisher) ActionCreated(ctx context.Context, action models.SyncAction) {
	p.emit(ctx, enums.EventSyncActionCreated, action)
}

func (p *SyncEventPublisher) ActionSucceeded(ctx context.Context, action models.SyncAction) {
	p.emit(ctx, enums.EventSyncActionSucceeded, action)
}

func (p *SyncEventPublisher) ActionFailed(ctx context.Context, action models.SyncAction) {
	p.emit(ctx, enums.EventSyncActionFailed, action)
}

func (p *SyncEventPublisher) ActionExhausted(ctx context.Context, action models.SyncAction) {
	p.emit(ctx, enums.EventSyncActionExhausted, action)
}

func (p *SyncEventPublisher) emit(ctx context.Context, eventType enums.OutboxEventType, action models.SyncAction) {
	tenantID := action.TenantID
	event := DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSyncAction,
		AggregateID:   action.ID,
		Actor:         &ActorRef{WorkerID: p.worker, TenantID: &tenantID},
		Version:       1,
		Data: SyncActionEventData{
			ActionID:       action.ID.String(),
			TenantID:       action.TenantID.String(),
			SystemCode:     action.SystemCode,
			SourceEntityID: action.SourceEntityID.String(),
			Kind:           string(action.Kind),
			State:          string(action.State),
			AttemptCount:   action.AttemptCount,
			ExternalRef:    action.ExternalRef,
			LastErrorCode:  action.LastErrorCode,
		},
	}
	// Failures recur per attempt; every other lifecycle event fires once per
	// action, so duplicate emissions are swallowed by the outbox constraint.
	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		if eventType == enums.EventSyncActionFailed {
			return p.svc.Emit(ctx, tx, event)
		}
		return p.svc.EmitIfNotExists(ctx, tx, event)
	})
	if err != nil {
		p.logg.Error(p.logg.WithFields(ctx, map[string]any{
			"event_type": eventType,
			"action_id":  action.ID.String(),
		}), "queuing sync lifecycle event failed", err)
	}
}
