package repository

import (
	"context"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/gorm"
)

// BatchFilter narrows batch listings. Zero values match everything.
type BatchFilter struct {
	Status   models.SettlementBatchStatus
	Currency string
}

// SettlementRepository defines read access to settlement batches for operators
type SettlementRepository interface {
	ListBatches(ctx context.Context, filter BatchFilter, offset, limit int) ([]models.SettlementBatch, error)
	CountBatches(ctx context.Context, filter BatchFilter) (int64, error)
	ListItemsByHost(ctx context.Context, hostID uint, limit int) ([]models.SettlementItem, error)
}

// PaymentRepository defines read access to payments and their ledger facts
type PaymentRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	LedgerEntries(ctx context.Context, paymentID uint) ([]models.LedgerEntry, error)
}

// SettingRepository defines access to the settlement overrides in the settings table
type SettingRepository interface {
	GetSettlementSettings(ctx context.Context) (*models.SettlementSettings, error)
	SaveSettlementSettings(ctx context.Context, settings *models.SettlementSettings) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Settlement SettlementRepository
	Payment    PaymentRepository
	Setting    SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Settlement: NewSettlementRepository(db),
		Payment:    NewPaymentRepository(db),
		Setting:    NewSettingRepository(db),
	}
}
