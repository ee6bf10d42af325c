package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HttpRouter installs the unauthenticated routes: health, metrics and
// gateway webhooks.
type HttpRouter struct {
	deps Dependencies
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	metrics := adaptor.HTTPHandler(promhttp.Handler())
	if len(h.deps.MetricsUsers) > 0 {
		app.Get("/metrics", basicauth.New(basicauth.Config{Users: h.deps.MetricsUsers}), metrics)
	} else {
		app.Get("/metrics", metrics)
	}

	if h.deps.Webhook != nil {
		app.Post("/webhooks/stripe", h.deps.Webhook.HandleStripeWebhook)
	}
}
