package refund

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
	ErrAmountExceedsBalance = errors.New("refund amount exceeds refundable balance")
)

// Service issues refunds through the gateway. The ledger side is booked when
// the provider confirms the refund with a charge.refunded event.
type Service struct {
	db *gorm.DB
	gw gateway.Gateway
}

func NewService(db *gorm.DB, gw gateway.Gateway) *Service {
	return &Service{db: db, gw: gw}
}

type Request struct {
	PaymentID uint
	Amount    int64 // 0 refunds the remaining balance
	Reason    string
}

func (s *Service) RequestRefund(ctx context.Context, req Request) (*gateway.Refund, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).First(&p, req.PaymentID).Error; err != nil {
		return nil, err
	}
	switch p.Status {
	case models.PaymentStatusPaid, models.PaymentStatusPartialRefunded:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotRefundable, p.Status)
	}

	remaining := p.Amount - p.RefundedAmount
	amount := req.Amount
	if amount == 0 {
		amount = remaining
	}
	if amount <= 0 || amount > remaining {
		return nil, fmt.Errorf("%w: requested %d, refundable %d", ErrAmountExceedsBalance, amount, remaining)
	}

	// Same payment, same refunded-so-far and same amount means a double submit.
	key := fmt.Sprintf("refund_payment_%d_%d_%d", p.ID, p.RefundedAmount, amount)
	return s.gw.CreateRefund(ctx, gateway.RefundRequest{
		PaymentIntentID: p.StripePaymentIntentID,
		ChargeID:        p.StripeChargeID,
		Amount:          amount,
		Reason:          req.Reason,
		IdempotencyKey:  key,
		Metadata: map[string]string{
			"payment_id": strconv.FormatUint(uint64(p.ID), 10),
			"host_id":    strconv.FormatUint(uint64(p.HostID), 10),
		},
	})
}
