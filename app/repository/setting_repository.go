package repository

import (
	"context"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/gorm"
)

// settingRepository implements the SettingRepository interface
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository instance
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) GetSettlementSettings(ctx context.Context) (*models.SettlementSettings, error) {
	return models.LoadSettlementSettings(r.db.WithContext(ctx))
}

func (r *settingRepository) SaveSettlementSettings(ctx context.Context, settings *models.SettlementSettings) error {
	return models.SaveSettlementSettings(r.db.WithContext(ctx), settings)
}
