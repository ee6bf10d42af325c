package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/HostPayouts/internal/pkg/middleware"
)

// ApiRouter installs the operator API under /api/v1/admin.
type ApiRouter struct {
	deps      Dependencies
	validator fiber.Handler
}

func NewApiRouter(deps Dependencies) (*ApiRouter, error) {
	r := &ApiRouter{deps: deps}
	if deps.OpenAPI != nil {
		v, err := middleware.OpenAPIRequestValidator(deps.OpenAPI)
		if err != nil {
			return nil, err
		}
		r.validator = v
	}
	return r, nil
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	perMinute := h.deps.LimiterMax
	if perMinute <= 0 {
		perMinute = 60
	}
	handlers := []fiber.Handler{
		limiter.New(limiter.Config{
			Max:        perMinute,
			Expiration: time.Minute,
			Storage:    h.deps.LimiterStorage,
		}),
		middleware.AdminAPIKeyAuth(h.deps.AdminAPIKeyHash),
	}
	if h.validator != nil {
		handlers = append(handlers, h.validator)
	}
	admin := app.Group("/api/v1/admin", handlers...)

	if sc := h.deps.Settlements; sc != nil {
		admin.Get("/batches", sc.HandleListBatches)
		admin.Get("/batches/:id", sc.HandleGetBatch)
		admin.Get("/batches/:id/export", sc.HandleExportBatch)
		admin.Post("/batches/:id/retry", sc.HandleRetryBatch)
		admin.Post("/settlements/run", sc.HandleRunSettlement)
		admin.Get("/hosts/:id/items", sc.HandleListHostItems)
	}
	if ec := h.deps.Events; ec != nil {
		admin.Get("/events", ec.HandleListEvents)
		admin.Post("/events/:id/replay", ec.HandleReplayEvent)
	}
	if pc := h.deps.Payments; pc != nil {
		admin.Get("/payments/:id/ledger", pc.HandleGetPaymentLedger)
		admin.Post("/payments/:id/refunds", pc.HandleCreateRefund)
	}
	if sc := h.deps.Settings; sc != nil {
		admin.Get("/settings", sc.HandleGetSettings)
		admin.Put("/settings", sc.HandleUpdateSettings)
	}
	if jc := h.deps.Jobs; jc != nil {
		admin.Post("/jobs", jc.HandleEnqueueJob)
		admin.Get("/jobs/:jobId", jc.HandleGetJob)
	}
}
