package models

import "time"

type SettlementBatchStatus string

const (
	BatchStatusDryRun        SettlementBatchStatus = "dry_run"
	BatchStatusPending       SettlementBatchStatus = "pending"
	BatchStatusCompleted     SettlementBatchStatus = "completed"
	BatchStatusPartialFailed SettlementBatchStatus = "partial_failed"
	BatchStatusFailed        SettlementBatchStatus = "failed"
	BatchStatusBlocked       SettlementBatchStatus = "blocked"
)

type TriggerType string

const (
	TriggerAuto     TriggerType = "auto"
	TriggerManual   TriggerType = "manual"
	TriggerRealtime TriggerType = "realtime"
)

// SettlementBatch is one payout run over [PeriodFrom, PeriodTo) for a currency.
type SettlementBatch struct {
	ID                uint                  `gorm:"primaryKey" json:"id"`
	PeriodFrom        time.Time             `gorm:"not null;uniqueIndex:ux_settlement_batches_window,priority:1" json:"period_from"`
	PeriodTo          time.Time             `gorm:"not null;uniqueIndex:ux_settlement_batches_window,priority:2" json:"period_to"`
	Currency          string                `gorm:"type:varchar(3);not null;uniqueIndex:ux_settlement_batches_window,priority:3" json:"currency"`
	PayoutMode        PayoutMode            `gorm:"type:varchar(10);not null;default:'BATCH'" json:"payout_mode"`
	Status            SettlementBatchStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	TriggerType       TriggerType           `gorm:"type:varchar(10);not null" json:"trigger_type"`
	TotalHosts        int                   `gorm:"not null;default:0" json:"total_hosts"`
	PendingCount      int                   `gorm:"not null;default:0" json:"pending_count"`
	BlockedCount      int                   `gorm:"not null;default:0" json:"blocked_count"`
	SkippedCount      int                   `gorm:"not null;default:0" json:"skipped_count"`
	CompletedCount    int                   `gorm:"not null;default:0" json:"completed_count"`
	FailedCount       int                   `gorm:"not null;default:0" json:"failed_count"`
	TotalSettleAmount int64                 `gorm:"not null;default:0" json:"total_settle_amount"`
	TotalTransferred  int64                 `gorm:"not null;default:0" json:"total_transferred"`
	StartedAt         *time.Time            `json:"started_at,omitempty"`
	FinishedAt        *time.Time            `json:"finished_at,omitempty"`
	CreatedAt         time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"autoUpdateTime" json:"updated_at"`

	Items []SettlementItem `gorm:"foreignKey:BatchID" json:"items,omitempty"`
}

// IsTerminal reports whether no further transfers will run for the batch.
func (b *SettlementBatch) IsTerminal() bool {
	switch b.Status {
	case BatchStatusCompleted, BatchStatusBlocked, BatchStatusDryRun:
		return true
	}
	return false
}
