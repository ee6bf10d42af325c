package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/app/repository"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/refund"
)

type RefundService interface {
	RequestRefund(ctx context.Context, req refund.Request) (*gateway.Refund, error)
}

// AdminPaymentController exposes payment ledgers and operator refunds
type AdminPaymentController struct {
	repo    repository.PaymentRepository
	refunds RefundService
}

func NewAdminPaymentController(repo repository.PaymentRepository, refunds RefundService) *AdminPaymentController {
	return &AdminPaymentController{repo: repo, refunds: refunds}
}

// HandleGetPaymentLedger returns the payment and every fact booked for it.
func (pc *AdminPaymentController) HandleGetPaymentLedger(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid payment id")
	}

	payment, err := pc.repo.GetByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Payment not found")
		}
		log.Errorf("[Admin] Load payment %d: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payment")
	}
	entries, err := pc.repo.LedgerEntries(c.UserContext(), id)
	if err != nil {
		log.Errorf("[Admin] Load ledger of payment %d: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load ledger")
	}

	var hostNet int64
	for i := range entries {
		switch entries[i].EntryType {
		case models.LedgerEntryHostPayable, models.LedgerEntryHostPayableReversal:
			hostNet += entries[i].Signed()
		}
	}
	return c.JSON(fiber.Map{
		"payment":           payment,
		"entries":           entries,
		"settlement_amount": payment.ComputeSettlementAmount(),
		"host_net":          hostNet,
	})
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// HandleCreateRefund asks the gateway for a refund. The ledger is booked when
// the gateway confirms it through a webhook.
func (pc *AdminPaymentController) HandleCreateRefund(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid payment id")
	}
	var body refundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}
	if body.Amount < 0 {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "amount must not be negative")
	}

	r, err := pc.refunds.RequestRefund(c.UserContext(), refund.Request{PaymentID: id, Amount: body.Amount, Reason: body.Reason})
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Payment not found")
	case errors.Is(err, refund.ErrPaymentNotRefundable):
		return jsonError(c, fiber.StatusConflict, "conflict", err.Error())
	case errors.Is(err, refund.ErrAmountExceedsBalance):
		return jsonError(c, fiber.StatusUnprocessableEntity, "unprocessable_entity", err.Error())
	default:
		log.Errorf("[Admin] Refund for payment %d failed: %v", id, err)
		return jsonError(c, fiber.StatusBadGateway, "gateway_error", err.Error())
	}

	log.Infof("[Admin] Refund %s requested for payment %d (%d)", r.ID, id, r.Amount)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"refund_id": r.ID, "amount": r.Amount, "status": r.Status})
}
