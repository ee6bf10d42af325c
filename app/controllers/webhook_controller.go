package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gatewayevents"
)

// EventInbox is the part of gatewayevents.Inbox the HTTP layer uses.
type EventInbox interface {
	Receive(ctx context.Context, payload []byte, signatureHeader string) (*models.PaymentGatewayEvent, error)
	Process(ctx context.Context, id uint) (gatewayevents.Outcome, error)
	Replay(ctx context.Context, id uint) (gatewayevents.Outcome, error)
	Repository() gatewayevents.Repository
}

// WebhookController accepts gateway webhooks
type WebhookController struct {
	inbox EventInbox
}

func NewWebhookController(inbox EventInbox) *WebhookController {
	return &WebhookController{inbox: inbox}
}

// HandleStripeWebhook stores the event before acknowledging it, then tries to
// process it in the request. A stored event that fails processing is still
// acknowledged; the retry sweep picks it up.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	// the fiber body buffer is reused after the handler returns
	payload := append([]byte(nil), c.Body()...)

	row, err := wc.inbox.Receive(c.UserContext(), payload, c.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) || errors.Is(err, gateway.ErrMalformedEvent) {
			log.Warnf("[Webhook] Rejected event: %v", err)
			return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
		}
		log.Errorf("[Webhook] Failed to store event: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Event could not be stored")
	}

	outcome, err := wc.inbox.Process(c.UserContext(), row.ID)
	if err != nil {
		log.Errorf("[Webhook] Event %d stored, processing deferred: %v", row.ID, err)
		outcome = gatewayevents.OutcomeFailed
	}

	return c.JSON(fiber.Map{"received": true, "event_id": row.ID, "outcome": string(outcome)})
}
