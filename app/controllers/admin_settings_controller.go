package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/app/repository"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
)

type SettingsApplier interface {
	Config() settlement.Config
	ApplySettings(s *models.SettlementSettings) (settlement.Config, error)
}

// AdminSettingsController reads and updates the settlement overrides
type AdminSettingsController struct {
	repo    repository.SettingRepository
	service SettingsApplier
}

func NewAdminSettingsController(repo repository.SettingRepository, service SettingsApplier) *AdminSettingsController {
	return &AdminSettingsController{repo: repo, service: service}
}

type effectiveConfig struct {
	Enabled           bool   `json:"settlement_enabled"`
	DelayDays         int    `json:"settlement_delay_days"`
	WindowDays        int    `json:"settlement_window_days"`
	MinTransferAmount int64  `json:"settlement_min_transfer_amount"`
	ItemMaxAttempts   int    `json:"settlement_item_max_attempts"`
	ItemRetryDelayMs  int64  `json:"settlement_item_retry_delay_ms"`
	Currency          string `json:"currency"`
	TimeZone          string `json:"time_zone"`
	RunAt             string `json:"run_at"`
}

func toEffective(cfg settlement.Config) effectiveConfig {
	return effectiveConfig{
		Enabled:           cfg.Enabled,
		DelayDays:         cfg.DelayDays,
		WindowDays:        cfg.WindowDays,
		MinTransferAmount: cfg.MinTransferAmount,
		ItemMaxAttempts:   cfg.ItemMaxAttempts,
		ItemRetryDelayMs:  cfg.ItemRetryDelay.Milliseconds(),
		Currency:          cfg.Currency,
		TimeZone:          cfg.TimeZone,
		RunAt:             fmt.Sprintf("%02d:%02d", cfg.RunHour, cfg.RunMinute),
	}
}

// HandleGetSettings returns the stored overrides and the config in effect.
func (sc *AdminSettingsController) HandleGetSettings(c *fiber.Ctx) error {
	overrides, err := sc.repo.GetSettlementSettings(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Load settings: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load settings")
	}
	return c.JSON(fiber.Map{"overrides": overrides, "effective": toEffective(sc.service.Config())})
}

// HandleUpdateSettings stores the given overrides and applies them to
// subsequent runs. Absent fields keep their stored value.
func (sc *AdminSettingsController) HandleUpdateSettings(c *fiber.Ctx) error {
	var in models.SettlementSettings
	if err := c.BodyParser(&in); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := in.Validate(); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	if err := sc.repo.SaveSettlementSettings(c.UserContext(), &in); err != nil {
		log.Errorf("[Admin] Save settings: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to save settings")
	}
	stored, err := sc.repo.GetSettlementSettings(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] Reload settings: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load settings")
	}
	cfg, err := sc.service.ApplySettings(stored)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}
	return c.JSON(fiber.Map{"overrides": stored, "effective": toEffective(cfg)})
}
