package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failFor(destination string) func(gateway.TransferRequest) error {
	return func(req gateway.TransferRequest) error {
		if req.Destination == destination {
			return errors.New("insufficient platform balance")
		}
		return nil
	}
}

func TestRunSettlementBatch_TransfersAndMarksPaymentsSettled(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	p1 := f.payment(t, 1, 3000, day(0))
	p2 := f.payment(t, 1, 2000, day(1))

	batch := f.run(t, periodFrom, periodTo)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, models.TriggerManual, batch.TriggerType)
	assert.Equal(t, 1, batch.TotalHosts)
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, int64(5000), batch.TotalTransferred)
	assert.NotNil(t, batch.FinishedAt)

	item := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
	require.NotNil(t, item.StripeTransferID)
	assert.Equal(t, 1, item.Attempts)

	require.Len(t, f.fake.Transfers, 1)
	tr := f.fake.Transfers[0]
	assert.Equal(t, int64(5000), tr.Amount)
	assert.Equal(t, "acct_1", tr.Destination)
	assert.Equal(t, TransferIdempotencyKey(item.ID), tr.IdempotencyKey)
	assert.Equal(t, "1", tr.Metadata["hostId"])
	assert.Equal(t, periodTo.Format(time.RFC3339), tr.Metadata["periodTo"])

	for _, tc := range []struct {
		id     uint
		amount int64
	}{{p1.ID, 3000}, {p2.ID, 2000}} {
		var p models.Payment
		require.NoError(t, f.db.First(&p, tc.id).Error)
		assert.Equal(t, models.SettlementStatusSettled, p.SettlementStatus)
		require.NotNil(t, p.SettlementAmount)
		assert.Equal(t, tc.amount, *p.SettlementAmount)
		assert.Equal(t, p.ComputeSettlementAmount(), *p.SettlementAmount)
		require.NotNil(t, p.SettlementBatchID)
		assert.Equal(t, batch.ID, *p.SettlementBatchID)
	}
}

func TestRunSettlementBatch_SameWindowReturnsExistingBatch(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 3000, day(0))

	first, err := f.svc.RunSettlementBatch(context.Background(), RunRequest{PeriodFrom: periodFrom, PeriodTo: periodTo})
	require.NoError(t, err)
	assert.True(t, first.Created)

	f.payment(t, 1, 2000, day(2))
	second, err := f.svc.RunSettlementBatch(context.Background(), RunRequest{PeriodFrom: periodFrom, PeriodTo: periodTo, Currency: "EUR"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Batch.ID, second.Batch.ID)
	assert.Equal(t, 1, f.fake.Calls())

	var count int64
	require.NoError(t, f.db.Model(&models.SettlementBatch{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunSettlementBatch_NextWindowPaysOnlyTheDifference(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	p := f.payment(t, 1, 5000, day(0))
	f.run(t, periodFrom, periodTo)

	f.payment(t, 1, 4000, day(8))
	f.reversal(t, p, 1000, day(9), "re_1")
	next := periodTo.Add(7 * 24 * time.Hour)
	f.now = next.Add(6 * time.Hour)

	batch := f.run(t, periodTo, next)
	item := f.items(t, batch.ID)[1]
	assert.Equal(t, int64(8000), item.EligibleNet)
	assert.Equal(t, int64(5000), item.PaidTotal)
	assert.Equal(t, int64(3000), item.SettleAmount)
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
	assert.Equal(t, 2, f.fake.TransferCount())
}

func TestRunSettlementBatch_RejectsInvertedWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RunSettlementBatch(context.Background(), RunRequest{PeriodFrom: periodTo, PeriodTo: periodFrom})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestRunSettlementBatch_DisabledIsDryRun(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Enabled = false })
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))

	batch := f.run(t, periodFrom, periodTo)
	assert.Equal(t, models.BatchStatusDryRun, batch.Status)
	assert.Equal(t, models.ItemStatusDryRun, f.items(t, batch.ID)[1].Status)
	assert.Equal(t, int64(5000), f.items(t, batch.ID)[1].SettleAmount)
	assert.Zero(t, f.fake.Calls())

	retried, err := f.svc.RetrySettlementBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusDryRun, retried.Status)
	assert.Zero(t, f.fake.Calls())

	n, err := f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunSettlementBatch_AllBlocked(t *testing.T) {
	f := newFixture(t)
	f.payment(t, 1, 5000, day(0))

	batch := f.run(t, periodFrom, periodTo)
	assert.Equal(t, models.BatchStatusBlocked, batch.Status)
	assert.Equal(t, 1, batch.BlockedCount)
	assert.Zero(t, f.fake.Calls())
}

func TestRunSettlementBatch_FailureIsIsolatedAndRetried(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.account(t, 2, true)
	f.payment(t, 1, 5000, day(0))
	f.payment(t, 2, 6000, day(0))
	f.fake.TransferHook = failFor("acct_2")

	batch := f.run(t, periodFrom, periodTo)
	assert.Equal(t, models.BatchStatusPartialFailed, batch.Status)
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, 1, batch.FailedCount)

	items := f.items(t, batch.ID)
	assert.Equal(t, models.ItemStatusCompleted, items[1].Status)
	failed := items[2]
	assert.Equal(t, models.ItemStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Contains(t, failed.LastError, "insufficient platform balance")
	require.NotNil(t, failed.NextAttemptAt)
	assert.WithinDuration(t, f.now.Add(f.cfg.ItemRetryDelay), *failed.NextAttemptAt, time.Second)

	f.fake.TransferHook = nil
	batch, err := f.svc.RetrySettlementBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, int64(11000), batch.TotalTransferred)
	assert.Equal(t, 2, f.fake.TransferCount())
	assert.Equal(t, 2, f.items(t, batch.ID)[2].Attempts)
}

func TestRunSettlementBatch_AllFailed(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")

	batch := f.run(t, periodFrom, periodTo)
	assert.Equal(t, models.BatchStatusFailed, batch.Status)
	assert.NotNil(t, batch.FinishedAt)
}

func TestRetrySettlementBatch_ConcurrentCallsTransferOnce(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")
	batch := f.run(t, periodFrom, periodTo)
	require.Equal(t, models.BatchStatusFailed, batch.Status)

	f.fake.TransferHook = nil
	f.fake.TransferDelay = 20 * time.Millisecond
	before := f.fake.Calls()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.RetrySettlementBatch(context.Background(), batch.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.fake.Calls()-before)
	assert.Equal(t, 1, f.fake.TransferCount())
	got, err := f.svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, got.Status)
}

func TestRetrySettlementBatch_RechecksDestination(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")
	batch := f.run(t, periodFrom, periodTo)

	f.fake.TransferHook = nil
	require.NoError(t, f.db.Model(a).Updates(map[string]any{"payouts_enabled": false, "verified_at": nil}).Error)
	calls := f.fake.Calls()

	batch, err := f.svc.RetrySettlementBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusBlocked, batch.Status)
	assert.Equal(t, calls, f.fake.Calls())

	item := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusBlocked, item.Status)
	assert.Equal(t, []string{models.ReasonAccountNotOnboarded}, item.Reasons())
	assert.Zero(t, item.SettleAmount)
}

func TestRetrySettlementBatch_StopsAtMaxAttempts(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ItemMaxAttempts = 2 })
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")

	batch := f.run(t, periodFrom, periodTo)
	_, err := f.svc.RetrySettlementBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	_, err = f.svc.RetrySettlementBatch(context.Background(), batch.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, f.fake.Calls())
	assert.Equal(t, 2, f.items(t, batch.ID)[1].Attempts)

	// an exhausted item no longer counts as paid, so the next window picks the balance up
	f.fake.TransferHook = nil
	next := periodTo.Add(7 * 24 * time.Hour)
	nextBatch := f.run(t, periodTo, next)
	item := f.items(t, nextBatch.ID)[1]
	assert.Equal(t, int64(0), item.PaidTotal)
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
}

// acceptThenTimeout creates the transfer on the gateway and then reports a
// timeout, as if the response was lost on the way back.
func acceptThenTimeout(f *fixture) func(gateway.TransferRequest) error {
	var mu sync.Mutex
	done := map[string]bool{}
	return func(req gateway.TransferRequest) error {
		mu.Lock()
		first := !done[req.IdempotencyKey]
		done[req.IdempotencyKey] = true
		mu.Unlock()
		if !first {
			return nil
		}
		if _, err := f.fake.CreateTransfer(context.Background(), req); err != nil {
			return err
		}
		return context.DeadlineExceeded
	}
}

func transferredTo(f *fixture, destination string) int64 {
	var total int64
	for _, tr := range f.fake.Transfers {
		if tr.Destination == destination {
			total += tr.Amount
		}
	}
	return total
}

func TestRetryDueItems_UnknownOutcomeOnLastAttemptIsNotPaidTwice(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ItemMaxAttempts = 1 })
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = acceptThenTimeout(f)

	batch := f.run(t, periodFrom, periodTo)
	item := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusFailed, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.True(t, item.OutcomeUnknown)

	// still counted as paid while the outcome is open
	res := f.compute(t)
	require.Len(t, res, 1)
	assert.Equal(t, int64(5000), res[0].PaidTotal)
	assert.Zero(t, res[0].SettleAmount)

	f.now = f.now.Add(f.cfg.ItemRetryDelay + time.Second)
	n, err := f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item = f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusCompleted, item.Status)
	assert.False(t, item.OutcomeUnknown)
	assert.Equal(t, 1, f.fake.TransferCount())

	next := f.run(t, periodTo, periodTo.Add(7*24*time.Hour))
	nextItem, ok := f.items(t, next.ID)[1]
	if ok {
		assert.Zero(t, nextItem.SettleAmount)
	}
	assert.Equal(t, 1, f.fake.TransferCount())
	assert.Equal(t, int64(5000), transferredTo(f, "acct_1"))
}

func TestRetryDueItems_CrashOnLastAttemptReusesTransfer(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ItemMaxAttempts = 1 })
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")
	batch := f.run(t, periodFrom, periodTo)
	f.fake.TransferHook = nil
	item := f.items(t, batch.ID)[1]

	// leave the row the way a worker dying after the gateway call does:
	// claimed on its last attempt with the transfer already created
	_, err := f.fake.CreateTransfer(context.Background(), gateway.TransferRequest{
		Amount: item.SettleAmount, Currency: item.Currency, Destination: "acct_1",
		IdempotencyKey: TransferIdempotencyKey(item.ID),
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.SettlementItem{}).Where("id = ?", item.ID).
		Updates(map[string]any{"status": models.ItemStatusProcessing, "claimed_at": f.now, "last_error": ""}).Error)

	// a processing item is counted as paid
	res := f.compute(t)
	require.Len(t, res, 1)
	assert.Equal(t, int64(5000), res[0].PaidTotal)

	f.now = f.now.Add(time.Hour)
	n, err := f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.StripeTransferID)
	assert.Equal(t, "tr_1", *got.StripeTransferID)

	f.run(t, periodTo, periodTo.Add(7*24*time.Hour))
	assert.Equal(t, 1, f.fake.TransferCount())
	assert.Equal(t, int64(5000), transferredTo(f, "acct_1"))
}

func TestRetryDueItems_RejectionAfterUnknownOutcomeStopsAtCap(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ItemMaxAttempts = 1 })
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = func(gateway.TransferRequest) error { return context.DeadlineExceeded }
	batch := f.run(t, periodFrom, periodTo)
	assert.True(t, f.items(t, batch.ID)[1].OutcomeUnknown)

	f.fake.TransferHook = failFor("acct_1")
	f.now = f.now.Add(f.cfg.ItemRetryDelay + time.Second)
	n, err := f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusFailed, item.Status)
	assert.False(t, item.OutcomeUnknown)
	assert.Equal(t, 2, item.Attempts)

	f.now = f.now.Add(f.cfg.ItemRetryDelay + time.Second)
	n, err = f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.fake.TransferCount())
}

func TestFailItem_RejectsCompletedItem(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	batch := f.run(t, periodFrom, periodTo)
	item := f.items(t, batch.ID)[1]
	require.Equal(t, models.ItemStatusCompleted, item.Status)

	err := f.svc.failItem(context.Background(), item.ID, errors.New("late failure"))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	got := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusCompleted, got.Status)
	assert.Empty(t, got.LastError)

	// nor can it be claimed or blocked again
	claimed, err := f.svc.claimItem(context.Background(), item.ID, "acct_1")
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NoError(t, f.svc.blockItem(context.Background(), &got, models.ReasonFrozenByOps))
	assert.Equal(t, models.ItemStatusCompleted, f.items(t, batch.ID)[1].Status)
}

func TestFailItem_TruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = func(gateway.TransferRequest) error {
		return errors.New("x" + strings.Repeat("€", 1000))
	}
	batch := f.run(t, periodFrom, periodTo)

	item := f.items(t, batch.ID)[1]
	assert.Equal(t, models.ItemStatusFailed, item.Status)
	assert.LessOrEqual(t, len(item.LastError), 2000)
	assert.True(t, utf8.ValidString(item.LastError))
}

func TestRetryDueItems_RespectsSchedule(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")
	batch := f.run(t, periodFrom, periodTo)
	f.fake.TransferHook = nil

	n, err := f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(f.cfg.ItemRetryDelay + time.Second)
	n, err = f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, got.Status)
}

func TestRetryDueItems_ReclaimsStaleProcessing(t *testing.T) {
	f := newFixture(t)
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))
	f.fake.TransferHook = failFor("acct_1")
	batch := f.run(t, periodFrom, periodTo)
	f.fake.TransferHook = nil

	item := f.items(t, batch.ID)[1]
	claimedAt := f.now
	require.NoError(t, f.db.Model(&models.SettlementItem{}).Where("id = ?", item.ID).
		Updates(map[string]any{"status": models.ItemStatusProcessing, "claimed_at": claimedAt}).Error)

	// a fresh claim is left alone
	n, err := f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.ItemStatusProcessing, f.items(t, batch.ID)[1].Status)

	f.now = f.now.Add(f.cfg.StaleClaimAfter + time.Minute)
	n, err = f.svc.RetryDueItems(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.ItemStatusCompleted, f.items(t, batch.ID)[1].Status)
	assert.Equal(t, 1, f.fake.TransferCount())
}

func TestRunSettlementBatch_WritesReport(t *testing.T) {
	f := newFixture(t)
	rep := &recordingReporter{}
	f.svc.reporter = rep
	f.account(t, 1, true)
	f.payment(t, 1, 5000, day(0))

	batch := f.run(t, periodFrom, periodTo)
	require.Len(t, rep.batches, 1)
	assert.Equal(t, batch.ID, rep.batches[0].ID)
	assert.Equal(t, models.BatchStatusCompleted, rep.batches[0].Status)
	assert.Len(t, rep.items[0], 1)
}

type recordingReporter struct {
	mu      sync.Mutex
	batches []models.SettlementBatch
	items   [][]models.SettlementItem
}

func (r *recordingReporter) WriteBatchReport(_ context.Context, b *models.SettlementBatch, items []models.SettlementItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, *b)
	r.items = append(r.items, items)
	return nil
}

func TestDeriveBatchStatus(t *testing.T) {
	tests := []struct {
		name    string
		counts  batchCounts
		enabled bool
		want    models.SettlementBatchStatus
	}{
		{"disabled", batchCounts{completed: 1}, false, models.BatchStatusDryRun},
		{"in flight", batchCounts{inFlight: 1, completed: 3}, true, models.BatchStatusPending},
		{"nothing to do", batchCounts{skipped: 2}, true, models.BatchStatusCompleted},
		{"only blocked", batchCounts{blocked: 2}, true, models.BatchStatusBlocked},
		{"blocked with skipped", batchCounts{blocked: 2, skipped: 1}, true, models.BatchStatusCompleted},
		{"only failed", batchCounts{failed: 2, blocked: 1}, true, models.BatchStatusFailed},
		{"mixed", batchCounts{failed: 1, completed: 1}, true, models.BatchStatusPartialFailed},
		{"completed with blocked", batchCounts{completed: 2, blocked: 1}, true, models.BatchStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveBatchStatus(tt.counts, tt.enabled))
		})
	}
}
