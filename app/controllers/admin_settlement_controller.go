package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/app/repository"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/jobqueue"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/scheduler"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
)

// SettlementService is the part of settlement.Service the admin API calls.
type SettlementService interface {
	RunSettlementBatch(ctx context.Context, req settlement.RunRequest) (*settlement.RunResult, error)
	RetrySettlementBatch(ctx context.Context, batchID uint) (*models.SettlementBatch, error)
	GetBatch(ctx context.Context, id uint) (*models.SettlementBatch, error)
	Items(ctx context.Context, batchID uint) ([]models.SettlementItem, error)
	Config() settlement.Config
}

// JobQueue is the part of jobqueue.Queue the admin API calls. It may be nil
// when Redis is not configured.
type JobQueue interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
}

// AdminSettlementController handles batch inspection and manual runs
type AdminSettlementController struct {
	service SettlementService
	repo    repository.SettlementRepository
	jobs    JobQueue
	now     func() time.Time
}

func NewAdminSettlementController(service SettlementService, repo repository.SettlementRepository, jobs JobQueue) *AdminSettlementController {
	return &AdminSettlementController{
		service: service,
		repo:    repo,
		jobs:    jobs,
		now:     time.Now,
	}
}

// HandleListBatches returns batches newest window first.
func (sc *AdminSettlementController) HandleListBatches(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	filter := repository.BatchFilter{
		Status:   models.SettlementBatchStatus(c.Query("status")),
		Currency: c.Query("currency"),
	}

	batches, err := sc.repo.ListBatches(c.UserContext(), filter, offset, limit)
	if err != nil {
		log.Errorf("[Admin] List batches: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load batches")
	}
	total, err := sc.repo.CountBatches(c.UserContext(), filter)
	if err != nil {
		log.Errorf("[Admin] Count batches: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count batches")
	}
	if batches == nil {
		batches = []models.SettlementBatch{}
	}
	return c.JSON(fiber.Map{"batches": batches, "total": total})
}

func (sc *AdminSettlementController) loadBatch(c *fiber.Ctx) (*models.SettlementBatch, error) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid batch id")
	}
	batch, err := sc.service.GetBatch(c.UserContext(), id)
	if err != nil {
		return nil, sc.batchError(c, err)
	}
	return batch, nil
}

func (sc *AdminSettlementController) batchError(c *fiber.Ctx, err error) error {
	if errors.Is(err, settlement.ErrBatchNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Batch not found")
	}
	log.Errorf("[Admin] Batch request failed: %v", err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", err.Error())
}

// HandleGetBatch returns one batch with all of its items.
func (sc *AdminSettlementController) HandleGetBatch(c *fiber.Ctx) error {
	batch, err := sc.loadBatch(c)
	if batch == nil {
		return err
	}
	items, err := sc.service.Items(c.UserContext(), batch.ID)
	if err != nil {
		return sc.batchError(c, err)
	}
	if items == nil {
		items = []models.SettlementItem{}
	}
	return c.JSON(fiber.Map{"batch": batch, "items": items})
}

// HandleExportBatch streams the per-host CSV of a batch.
func (sc *AdminSettlementController) HandleExportBatch(c *fiber.Ctx) error {
	batch, err := sc.loadBatch(c)
	if batch == nil {
		return err
	}
	items, err := sc.service.Items(c.UserContext(), batch.ID)
	if err != nil {
		return sc.batchError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Attachment(batchFileName(batch))
	return settlement.ExportCSV(c.Response().BodyWriter(), items)
}

func batchFileName(b *models.SettlementBatch) string {
	return "settlement-batch-" + b.PeriodFrom.UTC().Format("20060102") + "-" + b.PeriodTo.UTC().Format("20060102") + ".csv"
}

// HandleRetryBatch re-runs the open items of a batch in the request.
func (sc *AdminSettlementController) HandleRetryBatch(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid batch id")
	}
	batch, err := sc.service.RetrySettlementBatch(c.UserContext(), id)
	if err != nil {
		return sc.batchError(c, err)
	}
	return c.JSON(batch)
}

type runRequest struct {
	PeriodFrom *time.Time `json:"period_from"`
	PeriodTo   *time.Time `json:"period_to"`
	Currency   string     `json:"currency"`
	PayoutMode string     `json:"payout_mode"`
	Async      bool       `json:"async"`
}

// HandleRunSettlement runs a batch for an explicit window or, without one,
// for the window the scheduler would use right now.
func (sc *AdminSettlementController) HandleRunSettlement(c *fiber.Ctx) error {
	var body runRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}

	req := settlement.RunRequest{
		Currency:   body.Currency,
		PayoutMode: models.PayoutMode(body.PayoutMode),
		Trigger:    models.TriggerManual,
	}
	switch {
	case body.PeriodFrom != nil && body.PeriodTo != nil:
		req.PeriodFrom, req.PeriodTo = *body.PeriodFrom, *body.PeriodTo
	case body.PeriodFrom == nil && body.PeriodTo == nil:
		cfg := sc.service.Config()
		req.PeriodFrom, req.PeriodTo = scheduler.Window(sc.now(), cfg.WindowDays, cfg.Location())
	default:
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "period_from and period_to must be given together")
	}

	if body.Async {
		if sc.jobs == nil {
			return jsonError(c, fiber.StatusServiceUnavailable, "unavailable", "Job queue not configured")
		}
		job, err := sc.jobs.EnqueueJob(c.UserContext(), jobqueue.JobTypeSettlementRun, jobqueue.SettlementRunJobPayload{
			PeriodFrom: req.PeriodFrom,
			PeriodTo:   req.PeriodTo,
			Currency:   req.Currency,
			PayoutMode: string(req.PayoutMode),
		}.ToMap())
		if err != nil {
			log.Errorf("[Admin] Enqueue settlement run: %v", err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue run")
		}
		return c.Status(fiber.StatusAccepted).JSON(job)
	}

	res, err := sc.service.RunSettlementBatch(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, settlement.ErrInvalidWindow) {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
		}
		log.Errorf("[Admin] Manual settlement run failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", err.Error())
	}
	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(res.Batch)
}

// HandleListHostItems returns the recent items of one host across batches.
func (sc *AdminSettlementController) HandleListHostItems(c *fiber.Ctx) error {
	hostID, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid host id")
	}
	_, limit := pagination(c)
	items, err := sc.repo.ListItemsByHost(c.UserContext(), hostID, limit)
	if err != nil {
		log.Errorf("[Admin] List items of host %d: %v", hostID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load items")
	}
	if items == nil {
		items = []models.SettlementItem{}
	}
	return c.JSON(items)
}
