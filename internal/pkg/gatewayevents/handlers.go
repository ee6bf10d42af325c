package gatewayevents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/refund"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v75"
	"gorm.io/gorm"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventCheckoutSessionExpired   = "checkout.session.expired"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventChargeRefunded           = "charge.refunded"
	EventDisputeCreated           = "charge.dispute.created"
	EventDisputeClosed            = "charge.dispute.closed"
	EventAccountUpdated           = "account.updated"
)

func (in *Inbox) defaultHandlers() map[string]EventHandler {
	return map[string]EventHandler{
		EventCheckoutSessionCompleted: in.handleCheckoutCompleted,
		EventCheckoutSessionExpired:   in.handleCheckoutExpired,
		EventPaymentIntentSucceeded:   in.handlePaymentIntentSucceeded,
		EventPaymentIntentFailed:      in.handlePaymentIntentFailed,
		EventChargeRefunded:           in.handleChargeRefunded,
		EventDisputeCreated:           in.handleDisputeCreated,
		EventDisputeClosed:            in.handleDisputeClosed,
		EventAccountUpdated:           in.handleAccountUpdated,
	}
}

func (in *Inbox) handleCheckoutCompleted(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	cs, err := gateway.DecodeObject[stripe.CheckoutSession](ev)
	if err != nil {
		return nil, err
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		// async payment methods complete the session before the money moves
		return nil, nil
	}
	piID := ""
	if cs.PaymentIntent != nil {
		piID = cs.PaymentIntent.ID
	}
	paymentID, err := in.findPaymentID(ctx, paymentRef{
		MetadataPaymentID: cs.Metadata["payment_id"],
		CheckoutSessionID: cs.ID,
		PaymentIntentID:   piID,
	})
	if err != nil {
		return nil, err
	}
	return in.preparePaid(ctx, paymentID, gateway.FeeRef{PaymentIntentID: piID, CheckoutSessionID: cs.ID}, ev.Created)
}

func (in *Inbox) handlePaymentIntentSucceeded(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	pi, err := gateway.DecodeObject[stripe.PaymentIntent](ev)
	if err != nil {
		return nil, err
	}
	chargeID := ""
	if pi.LatestCharge != nil {
		chargeID = pi.LatestCharge.ID
	}
	paymentID, err := in.findPaymentID(ctx, paymentRef{
		MetadataPaymentID: pi.Metadata["payment_id"],
		PaymentIntentID:   pi.ID,
		ChargeID:          chargeID,
	})
	if err != nil {
		return nil, err
	}
	return in.preparePaid(ctx, paymentID, gateway.FeeRef{PaymentIntentID: pi.ID, ChargeID: chargeID}, ev.Created)
}

// preparePaid looks up the actual processor fee and returns the mutation that
// marks the payment paid and writes its ledger facts.
func (in *Inbox) preparePaid(ctx context.Context, paymentID uint, ref gateway.FeeRef, paidAt time.Time) (Mutation, error) {
	var current models.Payment
	if err := in.db.WithContext(ctx).First(&current, paymentID).Error; err != nil {
		return nil, err
	}
	if ref.BalanceTransactionID == "" {
		ref.BalanceTransactionID = current.StripeBalanceTransactionID
	}
	if ref.ChargeID == "" {
		ref.ChargeID = current.StripeChargeID
	}

	fee, err := gateway.ResolveFee(ctx, in.gw, ref)
	switch {
	case err == nil:
	case gateway.IsTransient(err):
		return nil, fmt.Errorf("fee lookup: %w", err)
	default:
		log.Warnf("[GatewayEvents] Payment %d: actual fee unavailable, using estimate: %v", paymentID, err)
		fee = nil
	}

	return func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}

		switch p.Status {
		case models.PaymentStatusPending, models.PaymentStatusFailed:
		case models.PaymentStatusCancelled:
			log.Warnf("[GatewayEvents] Payment %d is cancelled, ignoring paid event", p.ID)
			return nil
		default:
			// already paid through another event for the same charge
			return in.writePaidEntries(ctx, tx, p, fee)
		}

		if err := p.TransitionTo(models.PaymentStatusPaid); err != nil {
			return err
		}
		paid := paidAt.UTC()
		eligible := paid.AddDate(0, 0, in.delayDays())
		p.PaidAt = &paid
		p.EligibleAt = &eligible
		p.EligibilityStatus = models.EligibilityEligible
		if fee != nil {
			amount := fee.Amount
			p.StripeFeeAmountActual = &amount
			p.StripeBalanceTransactionID = fee.BalanceTransactionID
			if fee.ChargeID != "" {
				p.StripeChargeID = fee.ChargeID
			}
			if fee.PaymentIntentID != "" && p.StripePaymentIntentID == "" {
				p.StripePaymentIntentID = fee.PaymentIntentID
			}
		}
		if p.StripePaymentIntentID == "" {
			p.StripePaymentIntentID = ref.PaymentIntentID
		}
		if p.StripeChargeID == "" {
			p.StripeChargeID = ref.ChargeID
		}
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		if err := in.writePaidEntries(ctx, tx, p, fee); err != nil {
			return err
		}
		return updateRegistration(tx, p, []models.RegistrationStatus{models.RegistrationStatusPending}, models.RegistrationStatusConfirmed)
	}, nil
}

func (in *Inbox) writePaidEntries(ctx context.Context, tx *gorm.DB, p *models.Payment, fee *gateway.ResolvedFee) error {
	at := time.Now().UTC()
	if p.PaidAt != nil {
		at = *p.PaidAt
	}
	var entries []*models.LedgerEntry
	if p.PlatformFee > 0 {
		entries = append(entries, ledger.PaymentEntry(p, models.LedgerEntryPlatformFee, models.LedgerDirectionIn, p.PlatformFee, ledger.PlatformFeeKey(p.ID), "", at))
	}
	if fee != nil && fee.BalanceTransactionID != "" {
		entries = append(entries, ledger.PaymentEntry(p, models.LedgerEntryStripeFeeActual, models.LedgerDirectionOut, fee.Amount, ledger.BalanceTxFeeKey(fee.BalanceTransactionID), fee.BalanceTransactionID, at))
	}
	entries = append(entries, ledger.PaymentEntry(p, models.LedgerEntryHostPayable, models.LedgerDirectionIn, p.HostPayable(), ledger.HostPayableKey(p.ID), "", at))

	for _, e := range entries {
		if _, err := in.ledger.RecordIfAbsent(ctx, tx, e); err != nil {
			return err
		}
	}
	return nil
}

func (in *Inbox) handlePaymentIntentFailed(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	pi, err := gateway.DecodeObject[stripe.PaymentIntent](ev)
	if err != nil {
		return nil, err
	}
	paymentID, err := in.findPaymentID(ctx, paymentRef{MetadataPaymentID: pi.Metadata["payment_id"], PaymentIntentID: pi.ID})
	if err != nil {
		return nil, err
	}
	return func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending {
			return nil
		}
		if err := p.TransitionTo(models.PaymentStatusFailed); err != nil {
			return err
		}
		if p.StripePaymentIntentID == "" {
			p.StripePaymentIntentID = pi.ID
		}
		return tx.Save(p).Error
	}, nil
}

func (in *Inbox) handleCheckoutExpired(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	cs, err := gateway.DecodeObject[stripe.CheckoutSession](ev)
	if err != nil {
		return nil, err
	}
	paymentID, err := in.findPaymentID(ctx, paymentRef{MetadataPaymentID: cs.Metadata["payment_id"], CheckoutSessionID: cs.ID})
	if err != nil {
		return nil, err
	}
	return func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending {
			return nil
		}
		if err := p.TransitionTo(models.PaymentStatusCancelled); err != nil {
			return err
		}
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		return updateRegistration(tx, p, []models.RegistrationStatus{models.RegistrationStatusPending}, models.RegistrationStatusCancelled)
	}, nil
}

type refundFact struct {
	ID         string
	Amount     int64
	OccurredAt time.Time
}

// refundFacts lists succeeded refunds on the charge, oldest first. When the
// refund list is not embedded the cumulative refunded amount stands in as a
// single fact keyed by that amount.
func refundFacts(ch *stripe.Charge, eventCreated time.Time) []refundFact {
	var out []refundFact
	if ch.Refunds != nil {
		for _, r := range ch.Refunds.Data {
			if r == nil || r.Status != stripe.RefundStatusSucceeded {
				continue
			}
			out = append(out, refundFact{ID: r.ID, Amount: r.Amount, OccurredAt: time.Unix(r.Created, 0).UTC()})
		}
	}
	if len(out) == 0 && ch.AmountRefunded > 0 {
		return []refundFact{{
			ID:         fmt.Sprintf("%s:cumulative:%d", ch.ID, ch.AmountRefunded),
			Amount:     ch.AmountRefunded,
			OccurredAt: eventCreated,
		}}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

func (in *Inbox) handleChargeRefunded(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	ch, err := gateway.DecodeObject[stripe.Charge](ev)
	if err != nil {
		return nil, err
	}
	piID := ""
	if ch.PaymentIntent != nil {
		piID = ch.PaymentIntent.ID
	}
	paymentID, err := in.findPaymentID(ctx, paymentRef{MetadataPaymentID: ch.Metadata["payment_id"], ChargeID: ch.ID, PaymentIntentID: piID})
	if err != nil {
		return nil, err
	}
	facts := refundFacts(ch, ev.Created)
	total := ch.AmountRefunded

	return func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		for _, f := range facts {
			// the charge's cumulative refunded amount bounds what may be booked
			if p.RefundedAmount >= total {
				break
			}
			amount := min(f.Amount, total-p.RefundedAmount)
			if err := in.applyRefund(ctx, tx, p, f.ID, amount, f.OccurredAt); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// applyRefund books one refund: the refund itself, the proportional platform
// fee reversal and the host payable reversal. A refund id seen before is a
// no-op.
func (in *Inbox) applyRefund(ctx context.Context, tx *gorm.DB, p *models.Payment, refundID string, amount int64, at time.Time) error {
	if remaining := p.Amount - p.RefundedAmount; amount > remaining {
		amount = remaining
	}
	if amount <= 0 {
		return nil
	}

	created, err := in.ledger.RecordIfAbsent(ctx, tx, ledger.PaymentEntry(p, models.LedgerEntryRefund, models.LedgerDirectionOut, amount, ledger.RefundKey(refundID), refundID, at))
	if err != nil || !created {
		return err
	}

	hostPayable, err := in.ledger.SumByPayment(ctx, tx, p.ID, models.LedgerEntryHostPayable)
	if err != nil {
		return err
	}
	if hostPayable == 0 {
		hostPayable = p.HostPayable()
	}
	reversed, err := in.ledger.SumByPayment(ctx, tx, p.ID, models.LedgerEntryHostPayableReversal)
	if err != nil {
		return err
	}

	alloc := refund.Allocate(refund.Snapshot{
		Gross:               p.Amount,
		PlatformFee:         p.PlatformFee,
		HostPayable:         hostPayable,
		RefundedPlatformFee: p.RefundedPlatformFee,
		ReversedHostPayable: reversed,
	}, amount)

	if alloc.RefundPlatformFee > 0 {
		if _, err := in.ledger.RecordIfAbsent(ctx, tx, ledger.PaymentEntry(p, models.LedgerEntryPlatformFee, models.LedgerDirectionOut, alloc.RefundPlatformFee, ledger.PlatformFeeReversalKey(refundID), refundID, at)); err != nil {
			return err
		}
	}
	if alloc.ReverseHostPayable > 0 {
		if _, err := in.ledger.RecordIfAbsent(ctx, tx, ledger.PaymentEntry(p, models.LedgerEntryHostPayableReversal, models.LedgerDirectionOut, alloc.ReverseHostPayable, ledger.HostPayableReversalKey(refundID), refundID, at)); err != nil {
			return err
		}
	}

	p.RefundedAmount += amount
	p.RefundedPlatformFee += alloc.RefundPlatformFee

	next := models.PaymentStatusPartialRefunded
	if p.RefundedAmount >= p.Amount {
		next = models.PaymentStatusRefunded
	}
	if p.Status == models.PaymentStatusDisputed && next == models.PaymentStatusPartialRefunded {
		p.StatusBeforeDispute = next
	} else if err := p.TransitionTo(next); err != nil {
		return err
	}
	if err := tx.Save(p).Error; err != nil {
		return err
	}
	if next == models.PaymentStatusRefunded {
		return updateRegistration(tx, p, []models.RegistrationStatus{models.RegistrationStatusPending, models.RegistrationStatusConfirmed}, models.RegistrationStatusRefunded)
	}
	return nil
}

func disputeRef(d *stripe.Dispute) paymentRef {
	ref := paymentRef{MetadataPaymentID: d.Metadata["payment_id"]}
	if d.Charge != nil {
		ref.ChargeID = d.Charge.ID
	}
	if d.PaymentIntent != nil {
		ref.PaymentIntentID = d.PaymentIntent.ID
	}
	return ref
}

func (in *Inbox) handleDisputeCreated(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	d, err := gateway.DecodeObject[stripe.Dispute](ev)
	if err != nil {
		return nil, err
	}
	paymentID, err := in.findPaymentID(ctx, disputeRef(d))
	if err != nil {
		return nil, err
	}
	return func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == models.PaymentStatusDisputed {
			return nil
		}
		prev := p.Status
		if err := p.TransitionTo(models.PaymentStatusDisputed); err != nil {
			return err
		}
		at := ev.Created
		p.StatusBeforeDispute = prev
		p.EligibilityStatus = models.EligibilityException
		p.DisputedAt = &at
		return tx.Save(p).Error
	}, nil
}

func (in *Inbox) handleDisputeClosed(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	d, err := gateway.DecodeObject[stripe.Dispute](ev)
	if err != nil {
		return nil, err
	}
	paymentID, err := in.findPaymentID(ctx, disputeRef(d))
	if err != nil {
		return nil, err
	}
	lost := d.Status == stripe.DisputeStatusLost

	return func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusDisputed {
			return nil
		}

		if lost {
			hostPayable, err := in.ledger.SumByPayment(ctx, tx, p.ID, models.LedgerEntryHostPayable)
			if err != nil {
				return err
			}
			reversed, err := in.ledger.SumByPayment(ctx, tx, p.ID, models.LedgerEntryHostPayableReversal)
			if err != nil {
				return err
			}
			if rest := hostPayable - reversed; rest > 0 {
				e := ledger.PaymentEntry(p, models.LedgerEntryHostPayableReversal, models.LedgerDirectionOut, rest, ledger.DisputeLostKey(d.ID), d.ID, ev.Created)
				if _, err := in.ledger.RecordIfAbsent(ctx, tx, e); err != nil {
					return err
				}
			}
			return nil
		}

		restore := p.StatusBeforeDispute
		if restore == "" {
			restore = models.PaymentStatusPaid
		}
		if err := p.TransitionTo(restore); err != nil {
			return err
		}
		p.StatusBeforeDispute = ""
		p.EligibilityStatus = models.EligibilityEligible
		return tx.Save(p).Error
	}, nil
}

func (in *Inbox) handleAccountUpdated(ctx context.Context, ev *gateway.Event) (Mutation, error) {
	acct, err := gateway.DecodeObject[stripe.Account](ev)
	if err != nil {
		return nil, err
	}
	return func(tx *gorm.DB) error {
		var pa models.PayoutAccount
		err := tx.Where("stripe_account_id = ?", acct.ID).First(&pa).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Infof("[GatewayEvents] account.updated for unknown account %s", acct.ID)
			return nil
		}
		if err != nil {
			return err
		}
		pa.PayoutsEnabled = acct.PayoutsEnabled
		pa.DetailsSubmitted = acct.DetailsSubmitted
		switch {
		case acct.PayoutsEnabled && acct.DetailsSubmitted && pa.VerifiedAt == nil:
			now := ev.Created
			pa.VerifiedAt = &now
		case !acct.PayoutsEnabled:
			pa.VerifiedAt = nil
		}
		return tx.Save(&pa).Error
	}, nil
}
