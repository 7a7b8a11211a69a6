package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/solentra/ordersync-backend/api/responses"
	"github.com/solentra/ordersync-backend/api/validators"
	"github.com/solentra/ordersync-backend/internal/erpdocs"
	"github.com/solentra/ordersync-backend/internal/payloads"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

type syncActionRequest struct {
	TenantID   uuid.UUID              `json:"tenant_id" validate:"required"`
	SystemCode string                 `json:"system_code" validate:"required"`
	Snapshot   payloads.OrderSnapshot `json:"snapshot"`
}

// ERPDocumentRequest registers (or returns) the posting action for an order.
// Re-submitting the same order against the same ERP yields the same action.
func ERPDocumentRequest(svc erpdocs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "erp documents service unavailable"))
			return
		}

		var req syncActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.RequestPosting(r.Context(), erpdocs.RequestInput{
			TenantID:   req.TenantID,
			SystemCode: req.SystemCode,
			Snapshot:   req.Snapshot,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newActionView(*action))
	}
}

// ERPDocumentStage moves a posting from ready to ready_to_post.
func ERPDocumentStage(svc erpdocs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "erp documents service unavailable"))
			return
		}

		actionID, err := parseActionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.MarkReadyToPost(r.Context(), actionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newActionView(*action))
	}
}

// ERPDocumentPost executes the document posting against the ERP.
func ERPDocumentPost(svc erpdocs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "erp documents service unavailable"))
			return
		}

		actionID, err := parseActionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.Post(r.Context(), actionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newActionView(*action))
	}
}

// ERPDocumentRetry re-runs a failed posting.
func ERPDocumentRetry(svc erpdocs.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "erp documents service unavailable"))
			return
		}

		actionID, err := parseActionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.Retry(r.Context(), actionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newActionView(*action))
	}
}
