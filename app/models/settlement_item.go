package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type SettlementItemStatus string

const (
	ItemStatusPending    SettlementItemStatus = "pending"
	ItemStatusProcessing SettlementItemStatus = "processing"
	ItemStatusCompleted  SettlementItemStatus = "completed"
	ItemStatusFailed     SettlementItemStatus = "failed"
	ItemStatusBlocked    SettlementItemStatus = "blocked"
	ItemStatusSkipped    SettlementItemStatus = "skipped"
	ItemStatusDryRun     SettlementItemStatus = "dry_run"
)

// Reason codes recorded on blocked items.
const (
	ReasonAccountNotOnboarded      = "account_not_onboarded"
	ReasonBelowMinTransferAmount   = "below_min_transfer_amount"
	ReasonFrozenByOps              = "frozen_by_ops"
	ReasonNotMatured               = "not_matured"
	ReasonDisputeOpen              = "dispute_open"
	ReasonMissingEligibilitySource = "missing_eligibility_source"
)

// SettlementItem is one host's share of a batch. OutcomeUnknown is set while
// the last transfer call may have reached the gateway; such an item counts as
// paid and is retried under the same idempotency key past the attempt cap.
type SettlementItem struct {
	ID                uint                 `gorm:"primaryKey" json:"id"`
	BatchID           uint                 `gorm:"not null;uniqueIndex:ux_settlement_items_batch_host,priority:1" json:"batch_id"`
	HostID            uint                 `gorm:"not null;uniqueIndex:ux_settlement_items_batch_host,priority:2;index" json:"host_id"`
	Currency          string               `gorm:"type:varchar(3);not null" json:"currency"`
	EligibleNet       int64                `gorm:"not null;default:0" json:"eligible_net"`
	PaidTotal         int64                `gorm:"not null;default:0" json:"paid_total"`
	HostBalance       int64                `gorm:"not null;default:0" json:"host_balance"`
	SettleAmount      int64                `gorm:"not null;default:0" json:"settle_amount"`
	CarryReceivable   int64                `gorm:"not null;default:0" json:"carry_receivable"`
	Status            SettlementItemStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	BlockedReasons    string               `gorm:"type:varchar(255);not null;default:''" json:"blocked_reasons"`
	PaymentIDs        datatypes.JSON       `gorm:"type:json" json:"payment_ids,omitempty"`
	StripeDestination string               `gorm:"type:varchar(191);not null;default:''" json:"stripe_destination"`
	Attempts          int                  `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt     *time.Time           `gorm:"index" json:"next_attempt_at,omitempty"`
	ClaimedAt         *time.Time           `json:"claimed_at,omitempty"`
	StripeTransferID  *string              `gorm:"type:varchar(191)" json:"stripe_transfer_id,omitempty"`
	OutcomeUnknown    bool                 `gorm:"not null;default:false" json:"outcome_unknown"`
	LastError         string               `gorm:"type:text" json:"last_error,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	CreatedAt         time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// Reasons splits the stored reason codes.
func (i *SettlementItem) Reasons() []string {
	if i.BlockedReasons == "" {
		return nil
	}
	return strings.Split(i.BlockedReasons, ",")
}

// SettledPaymentIDs decodes the payment ids this item pays out.
func (i *SettlementItem) SettledPaymentIDs() ([]uint, error) {
	if len(i.PaymentIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal(i.PaymentIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// IsTerminal reports whether the item will not be transferred again.
func (i *SettlementItem) IsTerminal() bool {
	switch i.Status {
	case ItemStatusCompleted, ItemStatusBlocked, ItemStatusSkipped, ItemStatusDryRun:
		return true
	}
	return false
}
