package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/gorm"
)

type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new settlement repository instance
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) scoped(ctx context.Context, filter BatchFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.SettlementBatch{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Currency != "" {
		q = q.Where("currency = ?", strings.ToLower(filter.Currency))
	}
	return q
}

// ListBatches returns batches newest window first, without items.
func (r *settlementRepository) ListBatches(ctx context.Context, filter BatchFilter, offset, limit int) ([]models.SettlementBatch, error) {
	var batches []models.SettlementBatch
	err := r.scoped(ctx, filter).
		Order("period_to DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

func (r *settlementRepository) CountBatches(ctx context.Context, filter BatchFilter) (int64, error) {
	var count int64
	err := r.scoped(ctx, filter).Count(&count).Error
	return count, err
}

// ListItemsByHost returns the most recent items of one host across batches.
func (r *settlementRepository) ListItemsByHost(ctx context.Context, hostID uint, limit int) ([]models.SettlementItem, error) {
	var items []models.SettlementItem
	err := r.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("id DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
