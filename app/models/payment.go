package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending         PaymentStatus = "pending"
	PaymentStatusPaid            PaymentStatus = "paid"
	PaymentStatusPartialRefunded PaymentStatus = "partial_refunded"
	PaymentStatusRefunded        PaymentStatus = "refunded"
	PaymentStatusDisputed        PaymentStatus = "disputed"
	PaymentStatusFailed          PaymentStatus = "failed"
	PaymentStatusCancelled       PaymentStatus = "cancelled"
)

type EligibilityStatus string

const (
	EligibilityPending   EligibilityStatus = "PENDING"
	EligibilityEligible  EligibilityStatus = "ELIGIBLE"
	EligibilityException EligibilityStatus = "EXCEPTION"
)

type PayoutMode string

const (
	PayoutModeBatch    PayoutMode = "BATCH"
	PayoutModeRealtime PayoutMode = "REALTIME"
)

const (
	SettlementStatusUnsettled = "unsettled"
	SettlementStatusSettled   = "settled"
)

// Payment is the local projection of one external charge.
type Payment struct {
	ID                         uint              `gorm:"primaryKey" json:"id"`
	RegistrationID             *uint             `gorm:"index" json:"registration_id,omitempty"`
	CommunityID                *uint             `gorm:"index" json:"community_id,omitempty"`
	HostID                     uint              `gorm:"not null;index:idx_payments_host_mode,priority:1" json:"host_id"`
	Currency                   string            `gorm:"type:varchar(3);not null" json:"currency"`
	Amount                     int64             `gorm:"not null" json:"amount"`
	PlatformFee                int64             `gorm:"not null;default:0" json:"platform_fee"`
	StripeFeeAmountActual      *int64            `json:"stripe_fee_amount_actual,omitempty"`
	StripeFeeAmountEstimated   int64             `gorm:"not null;default:0" json:"stripe_fee_amount_estimated"`
	RefundedAmount             int64             `gorm:"not null;default:0" json:"refunded_amount"`
	RefundedPlatformFee        int64             `gorm:"not null;default:0" json:"refunded_platform_fee"`
	Status                     PaymentStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	StatusBeforeDispute        PaymentStatus     `gorm:"type:varchar(20);not null;default:''" json:"-"`
	EligibilityStatus          EligibilityStatus `gorm:"type:varchar(10);not null;default:'PENDING'" json:"eligibility_status"`
	PayoutMode                 PayoutMode        `gorm:"type:varchar(10);not null;default:'BATCH';index:idx_payments_host_mode,priority:2" json:"payout_mode"`
	EligibleAt                 *time.Time        `json:"eligible_at,omitempty"`
	SettlementFrozen           bool              `gorm:"not null;default:false" json:"settlement_frozen"`
	SettlementStatus           string            `gorm:"type:varchar(20);not null;default:'unsettled';index" json:"settlement_status"`
	SettlementAmount           *int64            `json:"settlement_amount,omitempty"`
	SettlementBatchID          *uint             `gorm:"index" json:"settlement_batch_id,omitempty"`
	SettledAt                  *time.Time        `json:"settled_at,omitempty"`
	StripeCheckoutSessionID    string            `gorm:"type:varchar(191);not null;default:'';index" json:"stripe_checkout_session_id"`
	StripePaymentIntentID      string            `gorm:"type:varchar(191);not null;default:'';index" json:"stripe_payment_intent_id"`
	StripeChargeID             string            `gorm:"type:varchar(191);not null;default:'';index" json:"stripe_charge_id"`
	StripeBalanceTransactionID string            `gorm:"type:varchar(191);not null;default:''" json:"stripe_balance_transaction_id"`
	PaidAt                     *time.Time        `gorm:"index" json:"paid_at,omitempty"`
	DisputedAt                 *time.Time        `json:"disputed_at,omitempty"`
	CreatedAt                  time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessorFee prefers the fee reported by the balance transaction and falls
// back to the checkout-time estimate.
func (p *Payment) ProcessorFee() int64 {
	if p.StripeFeeAmountActual != nil {
		return *p.StripeFeeAmountActual
	}
	return p.StripeFeeAmountEstimated
}

// HostPayable is what the host is owed for the charge before any refund.
func (p *Payment) HostPayable() int64 {
	v := p.Amount - p.PlatformFee - p.ProcessorFee()
	if v < 0 {
		return 0
	}
	return v
}

// ComputeSettlementAmount = gross - processorFee - netPlatformFee - refundedGross.
func (p *Payment) ComputeSettlementAmount() int64 {
	netPlatformFee := p.PlatformFee - p.RefundedPlatformFee
	return p.Amount - p.ProcessorFee() - netPlatformFee - p.RefundedAmount
}

// TransitionTo moves the payment to next, rejecting moves outside the table.
func (p *Payment) TransitionTo(next PaymentStatus) error {
	if err := CheckPaymentTransition(p.Status, next); err != nil {
		return err
	}
	p.Status = next
	return nil
}
