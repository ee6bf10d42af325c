package models

import (
	"time"

	"gorm.io/datatypes"
)

type LedgerEntryType string

const (
	LedgerEntryPlatformFee         LedgerEntryType = "platform_fee"
	LedgerEntryStripeFeeActual     LedgerEntryType = "stripe_fee_actual"
	LedgerEntryHostPayable         LedgerEntryType = "host_payable"
	LedgerEntryHostPayableReversal LedgerEntryType = "host_payable_reversal"
	LedgerEntryRefund              LedgerEntryType = "refund"
)

type LedgerDirection string

const (
	LedgerDirectionIn  LedgerDirection = "in"
	LedgerDirectionOut LedgerDirection = "out"
)

const LedgerProviderStripe = "stripe"

// LedgerEntry is an immutable financial fact. Corrections are written as new
// reversal entries, never by updating an existing row.
type LedgerEntry struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	EntryType        LedgerEntryType `gorm:"type:varchar(40);not null;index:idx_ledger_entries_type_occurred,priority:1" json:"entry_type"`
	Direction        LedgerDirection `gorm:"type:varchar(3);not null" json:"direction"`
	Amount           int64           `gorm:"not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentID        *uint           `gorm:"index" json:"payment_id,omitempty"`
	RegistrationID   *uint           `gorm:"index" json:"registration_id,omitempty"`
	CommunityID      *uint           `gorm:"index" json:"community_id,omitempty"`
	HostID           *uint           `gorm:"index" json:"host_id,omitempty"`
	Provider         string          `gorm:"type:varchar(20);not null;default:''" json:"provider"`
	ProviderObjectID string          `gorm:"type:varchar(191);not null;default:'';index" json:"provider_object_id"`
	OccurredAt       time.Time       `gorm:"not null;index:idx_ledger_entries_type_occurred,priority:2" json:"occurred_at"`
	IdempotencyKey   string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_ledger_entries_idempotency_key" json:"idempotency_key"`
	Metadata         datatypes.JSON  `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Signed returns the amount with its direction applied (in = +, out = -).
func (e *LedgerEntry) Signed() int64 {
	if e.Direction == LedgerDirectionOut {
		return -e.Amount
	}
	return e.Amount
}
