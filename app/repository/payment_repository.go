package repository

import (
	"context"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/gorm"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// GetByID returns gorm.ErrRecordNotFound for unknown ids.
func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// LedgerEntries returns every fact booked for the payment in the order it happened.
func (r *paymentRepository) LedgerEntries(ctx context.Context, paymentID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("occurred_at ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
