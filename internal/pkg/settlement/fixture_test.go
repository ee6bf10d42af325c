package settlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	periodFrom = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodTo   = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db    *gorm.DB
	fake  *gatewaytest.Fake
	store *ledger.Store
	cfg   Config
	svc   *Service
	now   time.Time
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ItemMaxAttempts = 3
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		db:    database.NewTestDB(t),
		fake:  gatewaytest.New(),
		store: ledger.NewStore(),
		cfg:   cfg,
		now:   time.Date(2024, 3, 8, 6, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.db, f.fake, f.store, cfg, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) account(t *testing.T, hostID uint, verified bool) *models.PayoutAccount {
	t.Helper()
	a := &models.PayoutAccount{
		HostID:           hostID,
		StripeAccountID:  fmt.Sprintf("acct_%d", hostID),
		PayoutsEnabled:   verified,
		DetailsSubmitted: verified,
	}
	if verified {
		at := periodFrom.Add(-24 * time.Hour)
		a.VerifiedAt = &at
	}
	require.NoError(t, f.db.Create(a).Error)
	return a
}

type paymentOpt func(*models.Payment)

func disputed(p *models.Payment) {
	p.Status = models.PaymentStatusDisputed
	p.EligibilityStatus = models.EligibilityException
}

func noEligibility(p *models.Payment) { p.EligibleAt = nil }

func eligibleAt(at time.Time) paymentOpt {
	return func(p *models.Payment) { p.EligibleAt = &at }
}

// payment seeds a paid payment whose host payable equals hostPayable and
// writes the matching ledger entry.
func (f *fixture) payment(t *testing.T, hostID uint, hostPayable int64, paidAt time.Time, opts ...paymentOpt) *models.Payment {
	t.Helper()
	eligible := paidAt.Add(24 * time.Hour)
	p := &models.Payment{
		HostID:                   hostID,
		Currency:                 "eur",
		Amount:                   hostPayable + 800,
		PlatformFee:              500,
		StripeFeeAmountEstimated: 300,
		Status:                   models.PaymentStatusPaid,
		EligibilityStatus:        models.EligibilityEligible,
		PayoutMode:               models.PayoutModeBatch,
		EligibleAt:               &eligible,
		SettlementStatus:         models.SettlementStatusUnsettled,
		PaidAt:                   &paidAt,
	}
	for _, o := range opts {
		o(p)
	}
	require.NoError(t, f.db.Create(p).Error)
	_, err := f.store.RecordIfAbsent(context.Background(), f.db, ledger.PaymentEntry(p,
		models.LedgerEntryHostPayable, models.LedgerDirectionIn, hostPayable,
		ledger.HostPayableKey(p.ID), "", paidAt))
	require.NoError(t, err)
	return p
}

func (f *fixture) reversal(t *testing.T, p *models.Payment, amount int64, at time.Time, refundID string) {
	t.Helper()
	_, err := f.store.RecordIfAbsent(context.Background(), f.db, ledger.PaymentEntry(p,
		models.LedgerEntryHostPayableReversal, models.LedgerDirectionOut, amount,
		ledger.HostPayableReversalKey(refundID), refundID, at))
	require.NoError(t, err)
}

func (f *fixture) run(t *testing.T, from, to time.Time) *models.SettlementBatch {
	t.Helper()
	res, err := f.svc.RunSettlementBatch(context.Background(), RunRequest{PeriodFrom: from, PeriodTo: to})
	require.NoError(t, err)
	return res.Batch
}

func (f *fixture) items(t *testing.T, batchID uint) map[uint]models.SettlementItem {
	t.Helper()
	list, err := f.svc.Items(context.Background(), batchID)
	require.NoError(t, err)
	out := map[uint]models.SettlementItem{}
	for _, it := range list {
		out[it.HostID] = it
	}
	return out
}

func (f *fixture) compute(t *testing.T) []HostResult {
	t.Helper()
	out, err := Compute(context.Background(), f.db, f.store, f.cfg, Window{
		From: periodFrom, To: periodTo, Currency: "eur", PayoutMode: models.PayoutModeBatch,
	})
	require.NoError(t, err)
	return out
}

func day(n int) time.Time {
	return periodFrom.Add(time.Duration(n) * 24 * time.Hour)
}
