package marketfeeds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solentra/ordersync-backend/internal/payloads"
	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
)

// MarketplaceConnector is the connector surface this service needs: push
// fulfillment updates and read commission rates for payload enrichment.
type MarketplaceConnector interface {
	PushTracking(ctx context.Context, systemCode string, payload json.RawMessage) (*syncengine.CallResult, error)
	CommissionRate(ctx context.Context, systemCode, category string) (decimal.Decimal, error)
}

// RequestInput identifies the fulfillment update and the target marketplace.
type RequestInput struct {
	TenantID   uuid.UUID
	SystemCode string
	Snapshot   payloads.OrderSnapshot
}

// Service drives marketplace tracking pushes.
type Service interface {
	RequestPush(ctx context.Context, input RequestInput) (*models.SyncAction, error)
	Push(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	GetForOrder(ctx context.Context, tenantID uuid.UUID, systemCode string, orderID uuid.UUID) (*models.SyncAction, bool, error)
	ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error)
}

type service struct {
	engine      *syncengine.Engine
	marketplace MarketplaceConnector
	schema      *payloads.Schema
}

func NewService(engine *syncengine.Engine, marketplace MarketplaceConnector) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync engine required")
	}
	if marketplace == nil {
		return nil, fmt.Errorf("marketplace connector required")
	}
	return &service{
		engine:      engine,
		marketplace: marketplace,
		schema:      payloads.MarketplaceTracking(),
	}, nil
}

func (s *service) RequestPush(ctx context.Context, input RequestInput) (*models.SyncAction, error) {
	snapshot := input.Snapshot
	snapshot.CommissionRates = s.commissionRates(ctx, input.SystemCode, snapshot.Lines)
	payload, err := s.schema.Build(snapshot)
	if err != nil {
		return nil, err
	}
	return s.engine.CreateOrGet(ctx, models.IdentityKey{
		TenantID:       input.TenantID,
		SystemCode:     input.SystemCode,
		SourceEntityID: input.Snapshot.OrderID,
		Kind:           enums.SyncActionKindMarketplacePush,
	}, payload)
}

// commissionRates resolves the commission rate for every distinct line
// category. The figure is advisory: a failed lookup leaves the category
// unrated and never blocks the push request.
func (s *service) commissionRates(ctx context.Context, systemCode string, lines []payloads.OrderLine) map[string]decimal.Decimal {
	rates := make(map[string]decimal.Decimal, len(lines))
	for _, line := range lines {
		if line.Category == "" {
			continue
		}
		if _, done := rates[line.Category]; done {
			continue
		}
		rate, err := s.marketplace.CommissionRate(ctx, systemCode, line.Category)
		if err != nil {
			continue
		}
		rates[line.Category] = rate
	}
	return rates
}

func (s *service) Push(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
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
		Kind:           enums.SyncActionKindMarketplacePush,
	})
}

func (s *service) ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error) {
	return s.engine.FindEligibleForRetry(ctx, tenantID, systemCode, enums.SyncActionKindMarketplacePush, limit)
}

func (s *service) call(ctx context.Context, action models.SyncAction) (*syncengine.CallResult, error) {
	return s.marketplace.PushTracking(ctx, action.SystemCode, action.RequestPayload)
}
