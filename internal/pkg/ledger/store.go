// Package ledger is the append-only store of fee and payout facts. Entries are
// never updated; corrections are written as reversal entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMissingIdempotencyKey = errors.New("ledger entry without idempotency key")

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// RecordIfAbsent inserts entry unless one with the same idempotency key
// exists. tx must be the caller's transaction so the entry commits together
// with the business mutation it belongs to.
func (s *Store) RecordIfAbsent(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) (bool, error) {
	if entry.IdempotencyKey == "" {
		return false, ErrMissingIdempotencyKey
	}
	if entry.Amount < 0 {
		return false, fmt.Errorf("ledger entry %s: negative amount %d", entry.IdempotencyKey, entry.Amount)
	}
	db := tx.WithContext(ctx)

	var count int64
	if err := db.Model(&models.LedgerEntry{}).
		Where("idempotency_key = ?", entry.IdempotencyKey).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("probe ledger key %s: %w", entry.IdempotencyKey, err)
	}
	if count > 0 {
		return false, nil
	}

	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	} else {
		entry.OccurredAt = entry.OccurredAt.UTC()
	}

	// A concurrent writer may have inserted between the probe and here; the
	// unique index turns that into a no-op instead of a duplicate.
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, fmt.Errorf("insert ledger key %s: %w", entry.IdempotencyKey, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SumByHost sums amounts of one entry type per host, restricted to the given
// payments and to entries strictly before occurredBefore.
func (s *Store) SumByHost(ctx context.Context, db *gorm.DB, paymentIDs []uint, entryType models.LedgerEntryType, occurredBefore time.Time) (map[uint]int64, error) {
	out := make(map[uint]int64)
	if len(paymentIDs) == 0 {
		return out, nil
	}

	type row struct {
		HostID uint
		Total  int64
	}
	var rows []row
	for _, chunk := range chunkIDs(paymentIDs, 500) {
		var part []row
		err := db.WithContext(ctx).Model(&models.LedgerEntry{}).
			Select("host_id, COALESCE(SUM(amount), 0) AS total").
			Where("entry_type = ? AND payment_id IN ? AND occurred_at < ? AND host_id IS NOT NULL", entryType, chunk, occurredBefore.UTC()).
			Group("host_id").
			Scan(&part).Error
		if err != nil {
			return nil, fmt.Errorf("sum %s by host: %w", entryType, err)
		}
		rows = append(rows, part...)
	}
	for _, r := range rows {
		out[r.HostID] += r.Total
	}
	return out, nil
}

// SumByPayment is the per-payment variant used when allocating refunds.
func (s *Store) SumByPayment(ctx context.Context, db *gorm.DB, paymentID uint, entryType models.LedgerEntryType) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("entry_type = ? AND payment_id = ?", entryType, paymentID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum %s for payment %d: %w", entryType, paymentID, err)
	}
	return total, nil
}

// HasEntry reports whether a fact of the given type exists for the payment.
func (s *Store) HasEntry(ctx context.Context, db *gorm.DB, paymentID uint, entryType models.LedgerEntryType) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("entry_type = ? AND payment_id = ?", entryType, paymentID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListByPayment(ctx context.Context, db *gorm.DB, paymentID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("occurred_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func chunkIDs(ids []uint, size int) [][]uint {
	var out [][]uint
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
