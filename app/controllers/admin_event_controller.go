package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gatewayevents"
)

// AdminEventController lets operators inspect and replay stored gateway events
type AdminEventController struct {
	inbox EventInbox
}

func NewAdminEventController(inbox EventInbox) *AdminEventController {
	return &AdminEventController{inbox: inbox}
}

// HandleListEvents lists stored events by status, failed ones by default.
func (ec *AdminEventController) HandleListEvents(c *fiber.Ctx) error {
	status := models.GatewayEventStatus(c.Query("status", string(models.GatewayEventFailed)))
	switch status {
	case models.GatewayEventReceived, models.GatewayEventProcessing, models.GatewayEventProcessed, models.GatewayEventFailed:
	default:
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Unknown event status")
	}

	offset, limit := pagination(c)
	events, err := ec.inbox.Repository().ListByStatus(c.UserContext(), status, offset, limit)
	if err != nil {
		log.Errorf("[Admin] List events: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load events")
	}
	if events == nil {
		events = []models.PaymentGatewayEvent{}
	}
	return c.JSON(events)
}

// HandleReplayEvent re-runs one stored event regardless of its retry schedule.
func (ec *AdminEventController) HandleReplayEvent(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid event id")
	}

	outcome, err := ec.inbox.Replay(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gatewayevents.ErrEventNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Event not found")
		}
		log.Errorf("[Admin] Replay event %d: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", err.Error())
	}
	log.Infof("[Admin] Replayed event %d: %s", id, outcome)
	return c.JSON(fiber.Map{"event_id": id, "outcome": string(outcome)})
}
