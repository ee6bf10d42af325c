package ledger

import (
	"encoding/json"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/datatypes"
)

// PaymentEntry builds an entry carrying the payment's ownership columns.
func PaymentEntry(p *models.Payment, entryType models.LedgerEntryType, dir models.LedgerDirection, amount int64, key, providerObjectID string, occurredAt time.Time) *models.LedgerEntry {
	paymentID := p.ID
	hostID := p.HostID
	e := &models.LedgerEntry{
		EntryType:        entryType,
		Direction:        dir,
		Amount:           amount,
		Currency:         p.Currency,
		PaymentID:        &paymentID,
		RegistrationID:   p.RegistrationID,
		CommunityID:      p.CommunityID,
		HostID:           &hostID,
		ProviderObjectID: providerObjectID,
		OccurredAt:       occurredAt,
		IdempotencyKey:   key,
	}
	if providerObjectID != "" {
		e.Provider = models.LedgerProviderStripe
	}
	return e
}

// WithMetadata attaches a JSON object to the entry. Marshal errors drop the
// metadata; it is informational only.
func WithMetadata(e *models.LedgerEntry, meta map[string]any) *models.LedgerEntry {
	if len(meta) == 0 {
		return e
	}
	if b, err := json.Marshal(meta); err == nil {
		e.Metadata = datatypes.JSON(b)
	}
	return e
}
