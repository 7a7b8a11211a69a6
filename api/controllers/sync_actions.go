package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solentra/ordersync-backend/api/responses"
	"github.com/solentra/ordersync-backend/api/validators"
	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/db/models"
	"github.com/solentra/ordersync-backend/pkg/enums"
	pkgerrors "github.com/solentra/ordersync-backend/pkg/errors"
	"github.com/solentra/ordersync-backend/pkg/logger"
	"github.com/solentra/ordersync-backend/pkg/pagination"
)

// actionView is the API projection of a sync action. Request and response
// payloads are deliberately omitted from list output; Detail includes them.
type actionView struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	SystemCode       string     `json:"system_code"`
	SourceEntityID   uuid.UUID  `json:"source_entity_id"`
	Kind             string     `json:"kind"`
	State            string     `json:"state"`
	AttemptCount     int        `json:"attempt_count"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	LastErrorCode    *string    `json:"last_error_code,omitempty"`
	LastErrorMessage *string    `json:"last_error_message,omitempty"`
	ExternalRef      *string    `json:"external_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type actionDetailView struct {
	actionView
	RequestPayload  any `json:"request_payload,omitempty"`
	ResponsePayload any `json:"response_payload,omitempty"`
}

type actionListView struct {
	Actions    []actionView `json:"actions"`
	NextCursor *string      `json:"next_cursor,omitempty"`
}

func newActionView(action models.SyncAction) actionView {
	return actionView{
		ID:               action.ID,
		TenantID:         action.TenantID,
		SystemCode:       action.SystemCode,
		SourceEntityID:   action.SourceEntityID,
		Kind:             string(action.Kind),
		State:            string(action.State),
		AttemptCount:     action.AttemptCount,
		NextRetryAt:      action.NextRetryAt,
		LastErrorCode:    action.LastErrorCode,
		LastErrorMessage: action.LastErrorMessage,
		ExternalRef:      action.ExternalRef,
		CreatedAt:        action.CreatedAt,
		UpdatedAt:        action.UpdatedAt,
	}
}

func newActionDetailView(action models.SyncAction) actionDetailView {
	view := actionDetailView{actionView: newActionView(action)}
	if len(action.RequestPayload) > 0 {
		view.RequestPayload = action.RequestPayload
	}
	if len(action.ResponsePayload) > 0 {
		view.ResponsePayload = action.ResponsePayload
	}
	return view
}

// ListActions returns a tenant-scoped page of sync actions with optional
// system/kind/state filters.
func ListActions(engine *syncengine.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync engine unavailable"))
			return
		}

		tenantID, err := parseTenantID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := syncengine.ListFilter{
			TenantID:   tenantID,
			SystemCode: validators.SanitizeString(r.URL.Query().Get("system_code"), 64),
			Pagination: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			kind, err := enums.ParseSyncActionKind(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind"))
				return
			}
			filter.Kind = kind
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("state")); raw != "" {
			state, err := enums.ParseSyncActionState(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid state"))
				return
			}
			filter.State = state
		}

		actions, cursor, err := engine.ListActions(r.Context(), filter)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sync actions"))
			return
		}

		view := actionListView{Actions: make([]actionView, 0, len(actions))}
		for _, action := range actions {
			view.Actions = append(view.Actions, newActionView(action))
		}
		if cursor != nil {
			encoded := pagination.EncodeCursor(*cursor)
			view.NextCursor = &encoded
		}
		responses.WriteSuccess(w, view)
	}
}

// ActionDetail returns one action including its payloads.
func ActionDetail(engine *syncengine.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync engine unavailable"))
			return
		}

		actionID, err := parseActionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		action, err := engine.GetByID(r.Context(), actionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newActionDetailView(*action))
	}
}

func parseActionID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "actionId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "action id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid action id")
	}
	return id, nil
}

func parseTenantID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant_id")
	}
	return id, nil
}
