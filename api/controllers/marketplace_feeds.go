package controllers

import (
	"net/http"

	"github.com/solentra/ordersync-backend/api/responses"
	"github.com/solentra/ordersync-backend/api/validators"
	"github.com/solentra/ordersync-backend/internal/marketfeeds"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

// MarketplaceFeedRequest registers (or returns) the tracking push action for
// an order and marketplace.
func MarketplaceFeedRequest(svc marketfeeds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "marketplace feeds service unavailable"))
			return
		}

		var req syncActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.RequestPush(r.Context(), marketfeeds.RequestInput{
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

// MarketplaceFeedPush executes the tracking push against the marketplace.
func MarketplaceFeedPush(svc marketfeeds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "marketplace feeds service unavailable"))
			return
		}

		actionID, err := parseActionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := svc.Push(r.Context(), actionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newActionView(*action))
	}
}

// MarketplaceFeedRetry re-runs a failed push.
func MarketplaceFeedRetry(svc marketfeeds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "marketplace feeds service unavailable"))
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
