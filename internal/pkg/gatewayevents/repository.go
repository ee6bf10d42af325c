package gatewayevents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEventNotFound = errors.New("gateway event not found")

// Repository persists inbound events and implements the claim protocol.
type Repository interface {
	Upsert(ctx context.Context, ev *models.PaymentGatewayEvent) (*models.PaymentGatewayEvent, error)
	FindByID(ctx context.Context, id uint) (*models.PaymentGatewayEvent, error)
	FindByProviderEventID(ctx context.Context, provider, providerEventID string) (*models.PaymentGatewayEvent, error)
	Claim(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error)
	MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, now time.Time) error
	MarkFailed(ctx context.Context, id uint, msg string, nextAttemptAt time.Time) error
	FailStale(ctx context.Context, staleBefore time.Time, nextAttempt func(attempts int) time.Time) (int, error)
	ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]uint, error)
	ListByStatus(ctx context.Context, status models.GatewayEventStatus, offset, limit int) ([]models.PaymentGatewayEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

var errClaimLost = errors.New("event claim lost")

// Upsert stores the payload for (provider, provider_event_id). A redelivery
// refreshes the payload of an unprocessed event but never touches status or
// attempts. A processed event keeps the payload it was applied with.
func (r *gormRepository) Upsert(ctx context.Context, ev *models.PaymentGatewayEvent) (*models.PaymentGatewayEvent, error) {
	if ev.Status == "" {
		ev.Status = models.GatewayEventReceived
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		return nil, fmt.Errorf("upsert gateway event %s: %w", ev.ProviderEventID, res.Error)
	}
	if res.RowsAffected == 0 {
		err := r.db.WithContext(ctx).Model(&models.PaymentGatewayEvent{}).
			Where("provider = ? AND provider_event_id = ? AND status <> ?", ev.Provider, ev.ProviderEventID, models.GatewayEventProcessed).
			Updates(map[string]any{
				"event_type":      ev.EventType,
				"payload":         ev.Payload,
				"payload_hash":    ev.PayloadHash,
				"signature_valid": ev.SignatureValid,
				"updated_at":      time.Now().UTC(),
			}).Error
		if err != nil {
			return nil, fmt.Errorf("refresh gateway event %s: %w", ev.ProviderEventID, err)
		}
	}
	return r.FindByProviderEventID(ctx, ev.Provider, ev.ProviderEventID)
}

func (r *gormRepository) FindByID(ctx context.Context, id uint) (*models.PaymentGatewayEvent, error) {
	var ev models.PaymentGatewayEvent
	if err := r.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (r *gormRepository) FindByProviderEventID(ctx context.Context, provider, providerEventID string) (*models.PaymentGatewayEvent, error) {
	var ev models.PaymentGatewayEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&ev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// Claim moves the event to processing if it is received, failed, or stuck in
// processing since before staleBefore. Only one caller can win. The stale case
// takes over an abandoned claim rather than changing status.
func (r *gormRepository) Claim(ctx context.Context, id uint, now, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentGatewayEvent{}).
		Where("id = ? AND (status IN ? OR (status = ? AND processing_started_at < ?))",
			id, models.EventStatusesInto(models.GatewayEventProcessing), models.GatewayEventProcessing, staleBefore.UTC()).
		Updates(map[string]any{
			"status":                models.GatewayEventProcessing,
			"processing_started_at": now.UTC(),
			"updated_at":            now.UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim gateway event %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkProcessed runs inside the business transaction. If the claim was taken
// over meanwhile the update matches nothing and the transaction must roll back.
func (r *gormRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, id uint, now time.Time) error {
	res := tx.WithContext(ctx).Model(&models.PaymentGatewayEvent{}).
		Where("id = ? AND status IN ?", id, models.EventStatusesInto(models.GatewayEventProcessed)).
		Updates(map[string]any{
			"status":          models.GatewayEventProcessed,
			"processed_at":    now.UTC(),
			"next_attempt_at": nil,
			"error_message":   "",
			"updated_at":      now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return errClaimLost
	}
	return nil
}

// MarkFailed returns an error wrapping models.ErrInvalidTransition when the
// event is no longer processing.
func (r *gormRepository) MarkFailed(ctx context.Context, id uint, msg string, nextAttemptAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.PaymentGatewayEvent{}).
		Where("id = ? AND status IN ?", id, models.EventStatusesInto(models.GatewayEventFailed)).
		Updates(map[string]any{
			"status":          models.GatewayEventFailed,
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nextAttemptAt.UTC(),
			"error_message":   models.Truncate(msg, 2000),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: gateway event %d is not processing", models.ErrInvalidTransition, id)
	}
	return nil
}

// FailStale turns abandoned processing claims into retryable failures.
func (r *gormRepository) FailStale(ctx context.Context, staleBefore time.Time, nextAttempt func(attempts int) time.Time) (int, error) {
	var stale []models.PaymentGatewayEvent
	err := r.db.WithContext(ctx).
		Where("status IN ? AND processing_started_at < ?", models.EventStatusesInto(models.GatewayEventFailed), staleBefore.UTC()).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	n := 0
	for _, ev := range stale {
		res := r.db.WithContext(ctx).Model(&models.PaymentGatewayEvent{}).
			Where("id = ? AND status = ? AND processing_started_at < ?", ev.ID, models.GatewayEventProcessing, staleBefore.UTC()).
			Updates(map[string]any{
				"status":          models.GatewayEventFailed,
				"attempts":        gorm.Expr("attempts + 1"),
				"next_attempt_at": nextAttempt(ev.Attempts + 1).UTC(),
				"error_message":   "processing claim expired",
				"updated_at":      time.Now().UTC(),
			})
		if res.Error != nil {
			return n, res.Error
		}
		n += int(res.RowsAffected)
	}
	return n, nil
}

func (r *gormRepository) ListDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.PaymentGatewayEvent{}).
		Where("status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?) AND attempts < ?",
			models.EventClaimableFrom(), now.UTC(), maxAttempts).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *gormRepository) ListByStatus(ctx context.Context, status models.GatewayEventStatus, offset, limit int) ([]models.PaymentGatewayEvent, error) {
	var events []models.PaymentGatewayEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error
	return events, err
}
