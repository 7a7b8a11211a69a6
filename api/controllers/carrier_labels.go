package controllers

import (
	"net/http"

	"github.com/solentra/ordersync-backend/api/responses"
	"github.com/solentra/ordersync-backend/api/validators"
	"github.com/solentra/ordersync-backend/internal/carrierlabels"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

// CarrierLabelRequest registers (or returns) the label issuance action for an
// order and carrier.
func CarrierLabelRequest(svc carrierlabels.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "carrier labels service unavailable"))
			return
		}

		var req syncActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.RequestLabel(r.Context(), carrierlabels.RequestInput{
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

// CarrierLabelIssue executes the label purchase against the carrier.
func CarrierLabelIssue(svc carrierlabels.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "carrier labels service unavailable"))
			return
		}

		actionID, err := parseActionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.Issue(r.Context(), actionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newActionView(*action))
	}
}

// CarrierLabelRetry re-runs a failed issuance.
func CarrierLabelRetry(svc carrierlabels.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "carrier labels service unavailable"))
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
