package settlement

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/env"
	"github.com/go-playground/validator/v10"
)

// Config is passed explicitly to every computation and run.
type Config struct {
	Enabled           bool
	DelayDays         int           `validate:"min=0,max=365"`
	WindowDays        int           `validate:"min=1,max=92"`
	MinTransferAmount int64         `validate:"min=0"`
	ItemMaxAttempts   int           `validate:"min=1,max=100"`
	ItemRetryDelay    time.Duration `validate:"min=0"`
	StaleClaimAfter   time.Duration `validate:"min=0"`
	Currency          string        `validate:"required,len=3,lowercase"`
	TimeZone          string        `validate:"required"`
	RunHour           int           `validate:"min=0,max=23"`
	RunMinute         int           `validate:"min=0,max=59"`
	ReportDir         string
}

func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		DelayDays:         7,
		WindowDays:        7,
		MinTransferAmount: 1000,
		ItemMaxAttempts:   5,
		ItemRetryDelay:    15 * time.Minute,
		StaleClaimAfter:   10 * time.Minute,
		Currency:          "eur",
		TimeZone:          "Europe/Berlin",
		RunHour:           6,
		RunMinute:         0,
		ReportDir:         "reports/settlements",
	}
}

// LoadConfig reads SETTLEMENT_* variables over the defaults.
func LoadConfig() Config {
	d := DefaultConfig()
	return Config{
		Enabled:           env.GetEnvBool("SETTLEMENT_ENABLED", d.Enabled),
		DelayDays:         env.GetEnvInt("SETTLEMENT_DELAY_DAYS", d.DelayDays),
		WindowDays:        env.GetEnvInt("SETTLEMENT_WINDOW_DAYS", d.WindowDays),
		MinTransferAmount: env.GetEnvInt64("SETTLEMENT_MIN_TRANSFER_AMOUNT", d.MinTransferAmount),
		ItemMaxAttempts:   env.GetEnvInt("SETTLEMENT_ITEM_MAX_ATTEMPTS", d.ItemMaxAttempts),
		ItemRetryDelay:    time.Duration(env.GetEnvInt64("SETTLEMENT_ITEM_RETRY_DELAY_MS", d.ItemRetryDelay.Milliseconds())) * time.Millisecond,
		StaleClaimAfter:   env.GetEnvDuration("SETTLEMENT_STALE_CLAIM_AFTER", d.StaleClaimAfter),
		Currency:          env.GetEnv("SETTLEMENT_CURRENCY", d.Currency),
		TimeZone:          env.GetEnv("SETTLEMENT_TIMEZONE", d.TimeZone),
		RunHour:           env.GetEnvInt("SETTLEMENT_RUN_HOUR", d.RunHour),
		RunMinute:         env.GetEnvInt("SETTLEMENT_RUN_MINUTE", d.RunMinute),
		ReportDir:         env.GetEnv("SETTLEMENT_REPORT_DIR", d.ReportDir),
	}
}

// WithSettings overlays operator overrides from the settings table.
func (c Config) WithSettings(s *models.SettlementSettings) Config {
	if s == nil {
		return c
	}
	if s.Enabled != nil {
		c.Enabled = *s.Enabled
	}
	if s.DelayDays != nil {
		c.DelayDays = *s.DelayDays
	}
	if s.WindowDays != nil {
		c.WindowDays = *s.WindowDays
	}
	if s.MinTransferAmount != nil {
		c.MinTransferAmount = *s.MinTransferAmount
	}
	if s.ItemMaxAttempts != nil {
		c.ItemMaxAttempts = *s.ItemMaxAttempts
	}
	if s.ItemRetryDelayMs != nil {
		c.ItemRetryDelay = time.Duration(*s.ItemRetryDelayMs) * time.Millisecond
	}
	return c
}

var configValidator = validator.New()

func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid settlement config: %w", err)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("invalid settlement time zone %q: %w", c.TimeZone, err)
	}
	return nil
}

// Location resolves TimeZone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
