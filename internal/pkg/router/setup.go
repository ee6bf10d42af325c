package router

import (
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/HostPayouts/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries the controllers and HTTP settings the routers need.
type Dependencies struct {
	Webhook     *controllers.WebhookController
	Settlements *controllers.AdminSettlementController
	Events      *controllers.AdminEventController
	Payments    *controllers.AdminPaymentController
	Settings    *controllers.AdminSettingsController
	Jobs        *controllers.AdminJobController

	AdminAPIKeyHash string
	// OpenAPI enables request validation on the admin API when set.
	OpenAPI *openapi3.T
	// LimiterStorage backs the admin rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	LimiterMax     int
	// MetricsUsers protects /metrics with basic auth when not empty.
	MetricsUsers map[string]string
}

func InstallRouter(app *fiber.App, deps Dependencies) error {
	api, err := NewApiRouter(deps)
	if err != nil {
		return err
	}
	setup(app, NewHttpRouter(deps), api)
	return nil
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
