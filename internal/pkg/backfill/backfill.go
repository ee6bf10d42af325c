package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/metrics"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/refund"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	sourcePaymentFields = "backfill_payment_fields"
	sourceGatewayFees   = "backfill_gateway_fees"
)

var paidStatuses = []models.PaymentStatus{
	models.PaymentStatusPaid,
	models.PaymentStatusPartialRefunded,
	models.PaymentStatusRefunded,
	models.PaymentStatusDisputed,
}

// Options bound a backfill run.
type Options struct {
	BatchSize int
	// Limit stops after this many payments; 0 scans everything.
	Limit  int
	DryRun bool
}

// Result counts what a run did. Every scanned payment lands in exactly one
// of Created, Skipped or Failed.
type Result struct {
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (r Result) String() string {
	return fmt.Sprintf("scanned=%d created=%d skipped=%d failed=%d", r.Scanned, r.Created, r.Skipped, r.Failed)
}

type Backfiller struct {
	db      *gorm.DB
	gw      gateway.Gateway
	store   *ledger.Store
	backoff gateway.Backoff
}

func NewBackfiller(db *gorm.DB, gw gateway.Gateway, store *ledger.Store) *Backfiller {
	return &Backfiller{db: db, gw: gw, store: store, backoff: gateway.DefaultBackoff}
}

// WithBackoff overrides the retry policy for gateway lookups.
func (b *Backfiller) WithBackoff(bo gateway.Backoff) *Backfiller {
	b.backoff = bo
	return b
}

// scan pages through payments matching where in id order and hands each one
// to fn until Limit is reached.
func (b *Backfiller) scan(ctx context.Context, opts Options, where func(*gorm.DB) *gorm.DB, fn func(p *models.Payment) (bool, error)) (Result, error) {
	var res Result
	size := opts.BatchSize
	if size <= 0 {
		size = 200
	}
	var cursor uint
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var page []models.Payment
		q := where(b.db.WithContext(ctx).Model(&models.Payment{})).
			Where("id > ?", cursor).
			Order("id ASC").
			Limit(size)
		if err := q.Find(&page).Error; err != nil {
			return res, fmt.Errorf("load payments after %d: %w", cursor, err)
		}
		if len(page) == 0 {
			return res, nil
		}
		for i := range page {
			if opts.Limit > 0 && res.Scanned >= opts.Limit {
				return res, nil
			}
			p := &page[i]
			cursor = p.ID
			res.Scanned++
			created, err := fn(p)
			switch {
			case err != nil:
				res.Failed++
				log.Errorf("[Backfill] Payment %d: %v", p.ID, err)
			case created:
				res.Created++
			default:
				res.Skipped++
			}
		}
	}
}

// FromPaymentFields writes the ledger facts that follow from fields already
// stored on each paid payment. Facts already present are left alone, so the
// job can be re-run at any time.
func (b *Backfiller) FromPaymentFields(ctx context.Context, opts Options) (Result, error) {
	res, err := b.scan(ctx, opts, func(q *gorm.DB) *gorm.DB {
		return q.Where("status IN ? AND paid_at IS NOT NULL", paidStatuses)
	}, func(p *models.Payment) (bool, error) {
		if opts.DryRun {
			return b.missingFacts(ctx, p)
		}
		var created int
		err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := b.writeFieldFacts(ctx, tx, p)
			created = n
			return err
		})
		if err != nil {
			return false, err
		}
		metrics.LedgerEntriesWritten.WithLabelValues(sourcePaymentFields).Add(float64(created))
		return created > 0, nil
	})
	log.Infof("[Backfill] Ledger from payment fields: %s (dry_run=%t)", res, opts.DryRun)
	return res, err
}

func fieldFacts(p *models.Payment, hostPayable int64) []*models.LedgerEntry {
	at := *p.PaidAt
	var out []*models.LedgerEntry
	if p.PlatformFee > 0 {
		out = append(out, ledger.PaymentEntry(p, models.LedgerEntryPlatformFee, models.LedgerDirectionIn, p.PlatformFee, ledger.PlatformFeeKey(p.ID), "", at))
	}
	if p.StripeFeeAmountActual != nil && p.StripeBalanceTransactionID != "" {
		out = append(out, ledger.PaymentEntry(p, models.LedgerEntryStripeFeeActual, models.LedgerDirectionOut, *p.StripeFeeAmountActual, ledger.BalanceTxFeeKey(p.StripeBalanceTransactionID), p.StripeBalanceTransactionID, at))
	}
	out = append(out, ledger.PaymentEntry(p, models.LedgerEntryHostPayable, models.LedgerDirectionIn, hostPayable, ledger.HostPayableKey(p.ID), "", at))
	return out
}

// refundFacts books the refunded totals stored on the payment as a single
// cumulative refund when no refund fact exists yet.
func refundFacts(p *models.Payment, hostPayable int64) []*models.LedgerEntry {
	if p.RefundedAmount <= 0 {
		return nil
	}
	ref := fmt.Sprintf("backfill:%d:%d", p.ID, p.RefundedAmount)
	at := p.UpdatedAt.UTC()
	if at.IsZero() {
		at = *p.PaidAt
	}
	alloc := refund.Allocate(refund.Snapshot{
		Gross:       p.Amount,
		PlatformFee: p.PlatformFee,
		HostPayable: hostPayable,
	}, p.RefundedAmount)
	platformFee := p.RefundedPlatformFee
	if platformFee == 0 {
		platformFee = alloc.RefundPlatformFee
	}

	out := []*models.LedgerEntry{
		ledger.PaymentEntry(p, models.LedgerEntryRefund, models.LedgerDirectionOut, p.RefundedAmount, ledger.RefundKey(ref), "", at),
	}
	if platformFee > 0 {
		out = append(out, ledger.PaymentEntry(p, models.LedgerEntryPlatformFee, models.LedgerDirectionOut, platformFee, ledger.PlatformFeeReversalKey(ref), "", at))
	}
	if alloc.ReverseHostPayable > 0 {
		out = append(out, ledger.PaymentEntry(p, models.LedgerEntryHostPayableReversal, models.LedgerDirectionOut, alloc.ReverseHostPayable, ledger.HostPayableReversalKey(ref), "", at))
	}
	return out
}

func (b *Backfiller) writeFieldFacts(ctx context.Context, tx *gorm.DB, p *models.Payment) (int, error) {
	created := 0
	for _, e := range fieldFacts(p, p.HostPayable()) {
		ok, err := b.store.RecordIfAbsent(ctx, tx, e)
		if err != nil {
			return 0, err
		}
		if ok {
			created++
		}
	}

	hasRefund, err := b.store.HasEntry(ctx, tx, p.ID, models.LedgerEntryRefund)
	if err != nil {
		return 0, err
	}
	if hasRefund {
		return created, nil
	}
	hostPayable, err := b.store.SumByPayment(ctx, tx, p.ID, models.LedgerEntryHostPayable)
	if err != nil {
		return 0, err
	}
	for _, e := range refundFacts(p, hostPayable) {
		ok, err := b.store.RecordIfAbsent(ctx, tx, e)
		if err != nil {
			return 0, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// missingFacts reports whether a real run would write anything for p.
func (b *Backfiller) missingFacts(ctx context.Context, p *models.Payment) (bool, error) {
	for _, e := range fieldFacts(p, p.HostPayable()) {
		var n int64
		if err := b.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("idempotency_key = ?", e.IdempotencyKey).Count(&n).Error; err != nil {
			return false, err
		}
		if n == 0 {
			return true, nil
		}
	}
	if p.RefundedAmount <= 0 {
		return false, nil
	}
	hasRefund, err := b.store.HasEntry(ctx, b.db, p.ID, models.LedgerEntryRefund)
	return !hasRefund, err
}

// FromGatewayFees looks up the actual processor fee for paid payments that
// still carry only the estimate, resolving through the payment intent or
// checkout session when the balance transaction is unknown.
func (b *Backfiller) FromGatewayFees(ctx context.Context, opts Options) (Result, error) {
	res, err := b.scan(ctx, opts, func(q *gorm.DB) *gorm.DB {
		return q.Where("status IN ? AND paid_at IS NOT NULL AND stripe_fee_amount_actual IS NULL", paidStatuses)
	}, func(p *models.Payment) (bool, error) {
		fee, err := gateway.WithRetry(ctx, b.backoff, func() (*gateway.ResolvedFee, error) {
			return gateway.ResolveFee(ctx, b.gw, gateway.FeeRef{
				BalanceTransactionID: p.StripeBalanceTransactionID,
				ChargeID:             p.StripeChargeID,
				PaymentIntentID:      p.StripePaymentIntentID,
				CheckoutSessionID:    p.StripeCheckoutSessionID,
			})
		})
		if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, gateway.ErrFeeUnavailable) {
			log.Warnf("[Backfill] Payment %d: no fee record at the gateway: %v", p.ID, err)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if opts.DryRun {
			return true, nil
		}
		created, err := b.applyFee(ctx, p.ID, fee)
		if err == nil && created {
			metrics.LedgerEntriesWritten.WithLabelValues(sourceGatewayFees).Inc()
		}
		return created, err
	})
	log.Infof("[Backfill] Gateway fees: %s (dry_run=%t)", res, opts.DryRun)
	return res, err
}

func (b *Backfiller) applyFee(ctx context.Context, paymentID uint, fee *gateway.ResolvedFee) (bool, error) {
	created := false
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		if err := tx.Clauses(database.ForUpdate(tx)...).First(&p, paymentID).Error; err != nil {
			return err
		}
		if p.StripeFeeAmountActual != nil {
			return nil
		}
		amount := fee.Amount
		p.StripeFeeAmountActual = &amount
		p.StripeBalanceTransactionID = fee.BalanceTransactionID
		if p.StripeChargeID == "" {
			p.StripeChargeID = fee.ChargeID
		}
		if p.StripePaymentIntentID == "" {
			p.StripePaymentIntentID = fee.PaymentIntentID
		}
		if err := tx.Save(&p).Error; err != nil {
			return err
		}

		at := time.Now().UTC()
		if p.PaidAt != nil {
			at = *p.PaidAt
		}
		ok, err := b.store.RecordIfAbsent(ctx, tx, ledger.PaymentEntry(&p, models.LedgerEntryStripeFeeActual, models.LedgerDirectionOut, fee.Amount, ledger.BalanceTxFeeKey(fee.BalanceTransactionID), fee.BalanceTransactionID, at))
		if err != nil {
			return err
		}
		created = ok
		// host payable is immutable once booked; only fill it in when missing
		_, err = b.store.RecordIfAbsent(ctx, tx, ledger.PaymentEntry(&p, models.LedgerEntryHostPayable, models.LedgerDirectionIn, p.HostPayable(), ledger.HostPayableKey(p.ID), "", at))
		return err
	})
	return created, err
}
