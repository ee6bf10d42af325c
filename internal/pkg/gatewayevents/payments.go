package gatewayevents

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"gorm.io/gorm"
)

// paymentRef collects the identifiers an event carries toward a payment.
type paymentRef struct {
	MetadataPaymentID string
	CheckoutSessionID string
	PaymentIntentID   string
	ChargeID          string
}

// findPaymentID resolves the local payment, trying the explicit metadata id
// first and then each provider reference.
func (in *Inbox) findPaymentID(ctx context.Context, ref paymentRef) (uint, error) {
	db := in.db.WithContext(ctx)

	if ref.MetadataPaymentID != "" {
		if id, err := strconv.ParseUint(ref.MetadataPaymentID, 10, 64); err == nil {
			var p models.Payment
			err := db.Select("id").First(&p, uint(id)).Error
			if err == nil {
				return p.ID, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, err
			}
		}
	}

	lookups := []struct {
		column string
		value  string
	}{
		{"stripe_checkout_session_id", ref.CheckoutSessionID},
		{"stripe_payment_intent_id", ref.PaymentIntentID},
		{"stripe_charge_id", ref.ChargeID},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var p models.Payment
		err := db.Select("id").Where(l.column+" = ?", l.value).Order("id ASC").First(&p).Error
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}
	return 0, ErrPaymentNotFound
}

func lockPayment(tx *gorm.DB, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := tx.Clauses(database.ForUpdate(tx)...).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func updateRegistration(tx *gorm.DB, p *models.Payment, from []models.RegistrationStatus, to models.RegistrationStatus) error {
	if p.RegistrationID == nil {
		return nil
	}
	updates := map[string]any{"status": to}
	if to == models.RegistrationStatusConfirmed {
		updates["confirmed_at"] = time.Now().UTC()
	}
	return tx.Model(&models.Registration{}).
		Where("id = ? AND status IN ?", *p.RegistrationID, from).
		Updates(updates).Error
}
