package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/solentra/ordersync-backend/api/controllers"
	"github.com/solentra/ordersync-backend/api/middleware"
	"github.com/solentra/ordersync-backend/internal/carrierlabels"
	"github.com/solentra/ordersync-backend/internal/erpdocs"
	"github.com/solentra/ordersync-backend/internal/marketfeeds"
	"github.com/solentra/ordersync-backend/internal/syncengine"
	"github.com/solentra/ordersync-backend/pkg/config"
	"github.com/solentra/ordersync-backend/pkg/logger"
)

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	Config       *config.Config
	Logger       *logger.Logger
	Engine       *syncengine.Engine
	ERPDocs      erpdocs.Service
	CarrierLabel carrierlabels.Service
	MarketFeeds  marketfeeds.Service
	Pingers      map[string]controllers.Pinger
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/actions", func(r chi.Router) {
			r.Get("/", controllers.ListActions(deps.Engine, logg))
			r.Get("/{actionId}", controllers.ActionDetail(deps.Engine, logg))
		})

		r.Route("/erp-documents", func(r chi.Router) {
			r.Post("/", controllers.ERPDocumentRequest(deps.ERPDocs, logg))
			r.Post("/{actionId}/stage", controllers.ERPDocumentStage(deps.ERPDocs, logg))
			r.Post("/{actionId}/post", controllers.ERPDocumentPost(deps.ERPDocs, logg))
			r.Post("/{actionId}/retry", controllers.ERPDocumentRetry(deps.ERPDocs, logg))
		})

		r.Route("/carrier-labels", func(r chi.Router) {
			r.Post("/", controllers.CarrierLabelRequest(deps.CarrierLabel, logg))
			r.Post("/{actionId}/issue", controllers.CarrierLabelIssue(deps.CarrierLabel, logg))
			r.Post("/{actionId}/retry", controllers.CarrierLabelRetry(deps.CarrierLabel, logg))
		})

		r.Route("/marketplace-feeds", func(r chi.Router) {
			r.Post("/", controllers.MarketplaceFeedRequest(deps.MarketFeeds, logg))
			r.Post("/{actionId}/push", controllers.MarketplaceFeedPush(deps.MarketFeeds, logg))
			r.Post("/{actionId}/retry", controllers.MarketplaceFeedRetry(deps.MarketFeeds, logg))
		})
	})

	return r
}
