package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting is an operator override stored as key/value
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // boolean, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	SettingSettlementEnabled           = "settlement_enabled"
	SettingSettlementDelayDays         = "settlement_delay_days"
	SettingSettlementWindowDays        = "settlement_window_days"
	SettingSettlementMinTransferAmount = "settlement_min_transfer_amount"
	SettingSettlementItemMaxAttempts   = "settlement_item_max_attempts"
	SettingSettlementItemRetryDelayMs  = "settlement_item_retry_delay_ms"
)

// SettlementSettings holds the overrides present in the settings table. Nil
// fields fall through to the environment defaults.
type SettlementSettings struct {
	Enabled           *bool  `json:"settlement_enabled,omitempty"`
	DelayDays         *int   `json:"settlement_delay_days,omitempty" validate:"omitempty,min=0,max=365"`
	WindowDays        *int   `json:"settlement_window_days,omitempty" validate:"omitempty,min=1,max=92"`
	MinTransferAmount *int64 `json:"settlement_min_transfer_amount,omitempty" validate:"omitempty,min=0"`
	ItemMaxAttempts   *int   `json:"settlement_item_max_attempts,omitempty" validate:"omitempty,min=1,max=100"`
	ItemRetryDelayMs  *int64 `json:"settlement_item_retry_delay_ms,omitempty" validate:"omitempty,min=0"`
}

var settingsValidator = validator.New()

// Validate validates the settings
func (s *SettlementSettings) Validate() error {
	return settingsValidator.Struct(s)
}

// LoadSettlementSettings reads all known settlement overrides.
func LoadSettlementSettings(db *gorm.DB) (*SettlementSettings, error) {
	var rows []Setting
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	out := &SettlementSettings{}
	for _, row := range rows {
		switch row.Key {
		case SettingSettlementEnabled:
			v, err := strconv.ParseBool(row.Value)
			if err != nil {
				return nil, fmt.Errorf("setting %s: %w", row.Key, err)
			}
			out.Enabled = &v
		case SettingSettlementDelayDays, SettingSettlementWindowDays, SettingSettlementItemMaxAttempts:
			v, err := strconv.Atoi(row.Value)
			if err != nil {
				return nil, fmt.Errorf("setting %s: %w", row.Key, err)
			}
			switch row.Key {
			case SettingSettlementDelayDays:
				out.DelayDays = &v
			case SettingSettlementWindowDays:
				out.WindowDays = &v
			default:
				out.ItemMaxAttempts = &v
			}
		case SettingSettlementMinTransferAmount, SettingSettlementItemRetryDelayMs:
			v, err := strconv.ParseInt(row.Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("setting %s: %w", row.Key, err)
			}
			if row.Key == SettingSettlementMinTransferAmount {
				out.MinTransferAmount = &v
			} else {
				out.ItemRetryDelayMs = &v
			}
		}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return out, nil
}

// SaveSettlementSettings upserts every non-nil override.
func SaveSettlementSettings(db *gorm.DB, s *SettlementSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	values := map[string]string{}
	if s.Enabled != nil {
		values[SettingSettlementEnabled] = strconv.FormatBool(*s.Enabled)
	}
	if s.DelayDays != nil {
		values[SettingSettlementDelayDays] = strconv.Itoa(*s.DelayDays)
	}
	if s.WindowDays != nil {
		values[SettingSettlementWindowDays] = strconv.Itoa(*s.WindowDays)
	}
	if s.MinTransferAmount != nil {
		values[SettingSettlementMinTransferAmount] = strconv.FormatInt(*s.MinTransferAmount, 10)
	}
	if s.ItemMaxAttempts != nil {
		values[SettingSettlementItemMaxAttempts] = strconv.Itoa(*s.ItemMaxAttempts)
	}
	if s.ItemRetryDelayMs != nil {
		values[SettingSettlementItemRetryDelayMs] = strconv.FormatInt(*s.ItemRetryDelayMs, 10)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			var setting Setting
			err := tx.Where("setting_key = ?", key).First(&setting).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				setting = Setting{Key: key, Value: value, Type: settingType(key)}
				if err := tx.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			case err != nil:
				return fmt.Errorf("failed to query setting %s: %w", key, err)
			default:
				setting.Value = value
				if err := tx.Save(&setting).Error; err != nil {
					return fmt.Errorf("failed to update setting %s: %w", key, err)
				}
			}
		}
		return nil
	})
}

func settingType(key string) string {
	if key == SettingSettlementEnabled {
		return "boolean"
	}
	return "integer"
}
