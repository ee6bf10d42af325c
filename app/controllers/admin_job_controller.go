package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/HostPayouts/internal/pkg/jobqueue"
)

// AdminJobController queues background work and reports its progress
type AdminJobController struct {
	jobs JobQueue
}

func NewAdminJobController(jobs JobQueue) *AdminJobController {
	return &AdminJobController{jobs: jobs}
}

type enqueueRequest struct {
	Type    jobqueue.JobType       `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// HandleEnqueueJob queues a job of a registered type.
func (jc *AdminJobController) HandleEnqueueJob(c *fiber.Ctx) error {
	if jc.jobs == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "Job queue not configured")
	}
	var body enqueueRequest
	if err := c.BodyParser(&body); err != nil || body.Type == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if body.Payload == nil {
		body.Payload = map[string]interface{}{}
	}

	job, err := jc.jobs.EnqueueJob(c.UserContext(), body.Type, body.Payload)
	if err != nil {
		if errors.Is(err, jobqueue.ErrUnknownJobType) {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
		}
		log.Errorf("[Admin] Enqueue %s: %v", body.Type, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue job")
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// HandleGetJob returns a queued job with its result once finished.
func (jc *AdminJobController) HandleGetJob(c *fiber.Ctx) error {
	if jc.jobs == nil {
		return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "Job queue not configured")
	}
	job, err := jc.jobs.GetJob(c.UserContext(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Job not found")
		}
		log.Errorf("[Admin] Load job: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load job")
	}
	return c.JSON(job)
}
