package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSettlementRepository_ListAndCount(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewFactory(db).GetSettlementRepository()
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		status := models.BatchStatusCompleted
		if i == 2 {
			status = models.BatchStatusPartialFailed
		}
		currency := "eur"
		if i == 3 {
			currency = "usd"
		}
		require.NoError(t, db.Create(&models.SettlementBatch{
			PeriodFrom:  start.AddDate(0, 0, 7*i),
			PeriodTo:    start.AddDate(0, 0, 7*(i+1)),
			Currency:    currency,
			Status:      status,
			TriggerType: models.TriggerAuto,
		}).Error)
	}

	all, err := repo.ListBatches(ctx, BatchFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.True(t, all[0].PeriodTo.After(all[1].PeriodTo))

	page, err := repo.ListBatches(ctx, BatchFilter{Currency: "EUR"}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, models.BatchStatusCompleted, page[0].Status)
	assert.True(t, page[0].PeriodFrom.Equal(start.AddDate(0, 0, 7)))

	n, err := repo.CountBatches(ctx, BatchFilter{Status: models.BatchStatusPartialFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSettlementRepository_ListItemsByHost(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewSettlementRepository(db)

	for batch := uint(1); batch <= 3; batch++ {
		require.NoError(t, db.Create(&models.SettlementItem{BatchID: batch, HostID: 7, Currency: "eur", Status: models.ItemStatusCompleted}).Error)
	}
	require.NoError(t, db.Create(&models.SettlementItem{BatchID: 1, HostID: 8, Currency: "eur", Status: models.ItemStatusBlocked}).Error)

	items, err := repo.ListItemsByHost(context.Background(), 7, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, uint(3), items[0].BatchID)
}

func TestPaymentRepository(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 99)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	p := &models.Payment{HostID: 7, Currency: "eur", Amount: 10000, PlatformFee: 500, Status: models.PaymentStatusPaid}
	require.NoError(t, db.Create(p).Error)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	later := &models.LedgerEntry{EntryType: models.LedgerEntryRefund, Direction: models.LedgerDirectionOut, Amount: 2000, Currency: "eur", PaymentID: &p.ID, OccurredAt: at.Add(time.Hour), IdempotencyKey: "refund_re_1"}
	earlier := &models.LedgerEntry{EntryType: models.LedgerEntryHostPayable, Direction: models.LedgerDirectionIn, Amount: 9150, Currency: "eur", PaymentID: &p.ID, OccurredAt: at, IdempotencyKey: "host_payable_payment_1"}
	require.NoError(t, db.Create(later).Error)
	require.NoError(t, db.Create(earlier).Error)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), got.Amount)

	entries, err := repo.LedgerEntries(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerEntryHostPayable, entries[0].EntryType)
	assert.Equal(t, models.LedgerEntryRefund, entries[1].EntryType)
}

func TestSettingRepository_RoundTrip(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	empty, err := repo.GetSettlementSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.Enabled)

	enabled := true
	delay := 3
	require.NoError(t, repo.SaveSettlementSettings(ctx, &models.SettlementSettings{Enabled: &enabled, DelayDays: &delay}))
	delay = 5
	require.NoError(t, repo.SaveSettlementSettings(ctx, &models.SettlementSettings{DelayDays: &delay}))

	got, err := repo.GetSettlementSettings(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Enabled)
	assert.True(t, *got.Enabled)
	require.NotNil(t, got.DelayDays)
	assert.Equal(t, 5, *got.DelayDays)
	assert.Nil(t, got.WindowDays)
}
