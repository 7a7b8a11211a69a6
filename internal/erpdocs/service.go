package erpdocs

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

// DocumentPoster is the ERP connector surface this service needs.
type DocumentPoster interface {
	PostDocument(ctx context.Context, systemCode string, payload json.RawMessage) (*syncengine.CallResult, error)
}

// RequestInput identifies the order snapshot to post and the target ERP.
type RequestInput struct {
	TenantID   uuid.UUID
	SystemCode string
	Snapshot   payloads.OrderSnapshot
}

// Service drives accounting document postings: the five-stage lifecycle where
// a created posting must be explicitly staged before a worker may post it.
type Service interface {
	RequestPosting(ctx context.Context, input RequestInput) (*models.SyncAction, error)
	MarkReadyToPost(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Post(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SyncAction, error)
	GetForOrder(ctx context.Context, tenantID uuid.UUID, systemCode string, orderID uuid.UUID) (*models.SyncAction, bool, error)
	ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error)
}

type service struct {
	engine *syncengine.Engine
	erp    DocumentPoster
	schema *payloads.Schema
}

// NewService wires the document posting service.
func NewService(engine *syncengine.Engine, erp DocumentPoster) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("sync engine required")
	}
	if erp == nil {
		return nil, fmt.Errorf("erp connector required")
	}
	return &service{
		engine: engine,
		erp:    erp,
		schema: payloads.ERPDocument(),
	}, nil
}

func (s *service) RequestPosting(ctx context.Context, input RequestInput) (*models.SyncAction, error) {
	payload, err := s.schema.Build(input.Snapshot)
	if err != nil {
		return nil, err
	}
	return s.engine.CreateOrGet(ctx, models.IdentityKey{
		TenantID:       input.TenantID,
		SystemCode:     input.SystemCode,
		SourceEntityID: input.Snapshot.OrderID,
		Kind:           enums.SyncActionKindDocumentPosting,
	}, payload)
}

// MarkReadyToPost stages an approved posting for pickup.
func (s *service) MarkReadyToPost(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
	return s.engine.Advance(ctx, id, enums.SyncActionStateReadyToPost)
}

func (s *service) Post(ctx context.Context, id uuid.UUID) (*models.SyncAction, error) {
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
		Kind:           enums.SyncActionKindDocumentPosting,
	})
}

func (s *service) ListRetryable(ctx context.Context, tenantID uuid.UUID, systemCode string, limit int) ([]models.SyncAction, error) {
	return s.engine.FindEligibleForRetry(ctx, tenantID, systemCode, enums.SyncActionKindDocumentPosting, limit)
}

func (s *service) call(ctx context.Context, action models.SyncAction) (*syncengine.CallResult, error) {
	return s.erp.PostDocument(ctx, action.SystemCode, action.RequestPayload)
}
