package carrierlabels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/solentra/ordersync-backend/internal/payloads"
	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
)

// LabelIssuer is the carrier connector surface this service needs.
type LabelIssuer interface {
	IssueLabel(ctx context.Context, systemCode string, payload json.RawMessage) (*syncengine.CallResult, error)
}

// RequestInput identifies the shipment to label and the target carrier.
type RequestInput struct {
	TenantID   uuid.UUID
	SystemCode string
	Snapshot   payloads.OrderSnapshot
}

// Service drives carrier label issuance. Labels run the short lifecycle:
// requested records are immediately claimable, no staging step.
type Service interface {
	RequestLabel(ctx context.Context, input RequestInput) (*models.SyncAction, error)
	Issue(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	GetForOrder(ctx context.Context, tenantID uuid.UUID, systemCode string, orderID uuid.UUID) (*models.SyncAction, bool, error)
	ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error)
}

type service struct {
	engine  *syncengine.Engine
	carrier LabelIssuer
	schema  *payloads.Schema
}

func NewService(engine *syncengine.Engine, carrier LabelIssuer) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync engine required")
	}
	if carrier == nil {
		return nil, fmt.Errorf("carrier connector required")
	}
	return &service{
		engine:  engine,
		carrier: carrier,
		schema:  payloads.CarrierLabel(),
	}, nil
}

func (s *service) RequestLabel(ctx context.Context, input RequestInput) (*models.SyncAction, error) {
	payload, err := s.schema.Build(input.Snapshot)
	if err != nil {
		return nil, err
	}
	return s.engine.CreateOrGet(ctx, models.IdentityKey{
		TenantID:       input.TenantID,
		SystemCode:     input.SystemCode,
		SourceEntityID: input.Snapshot.OrderID,
		Kind:           enums.SyncActionKindLabelIssuance,
	}, payload)
}

func (s *service) Issue(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
	return s.engine.Execute(ctx, id, s.call)
}

func (s *service) Retry(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
	return s.engine.Retry(ctx, id, s.call)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
	return s.engine.GetByID(ctx, id)
}

func (s *service) GetForOrder(ctx context.Context, tenantID uuid.UUID, systemCode string, orderID uuid.UUID) (*models.SyncAction, bool, error) {
	return s.engine.GetByKey(ctx, models.IdentityKey{
		TenantID:       tenantID,
		SystemCode:     systemCode,
		SourceEntityID: orderID,
		Kind:           enums.SyncActionKindLabelIssuance,
	})
}

func (s *service) ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error) {
	return s.engine.FindEligibleForRetry(ctx, tenantID, systemCode, enums.SyncActionKindLabelIssuance, limit)
}

func (s *service) call(ctx context.Context, action models.SyncAction) (*syncengine.CallResult, error) {
	return s.carrier.IssueLabel(ctx, action.SystemCode, action.RequestPayload)
}
