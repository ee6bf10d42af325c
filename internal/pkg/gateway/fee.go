package gateway

import (
	"context"
	"fmt"
)

// FeeRef holds whichever references a payment carries toward its charge.
type FeeRef struct {
	BalanceTransactionID string
	ChargeID             string
	PaymentIntentID      string
	CheckoutSessionID    string
}

// ResolvedFee is the fee plus the references discovered on the way.
type ResolvedFee struct {
	Fee
	ChargeID        string
	PaymentIntentID string
}

// ResolveFee walks session -> payment intent -> charge -> balance transaction,
// starting from the most direct reference available.
func ResolveFee(ctx context.Context, gw Gateway, ref FeeRef) (*ResolvedFee, error) {
	out := &ResolvedFee{ChargeID: ref.ChargeID, PaymentIntentID: ref.PaymentIntentID}
	btID := ref.BalanceTransactionID

	if btID == "" {
		if out.ChargeID == "" && out.PaymentIntentID == "" && ref.CheckoutSessionID != "" {
			cs, err := gw.GetCheckoutSession(ctx, ref.CheckoutSessionID)
			if err != nil {
				return nil, fmt.Errorf("checkout session %s: %w", ref.CheckoutSessionID, err)
			}
			out.PaymentIntentID = cs.PaymentIntentID
		}
		if out.ChargeID == "" && out.PaymentIntentID != "" {
			pi, err := gw.GetPaymentIntent(ctx, out.PaymentIntentID)
			if err != nil {
				return nil, fmt.Errorf("payment intent %s: %w", out.PaymentIntentID, err)
			}
			out.ChargeID = pi.LatestChargeID
		}
		if out.ChargeID == "" {
			return nil, ErrFeeUnavailable
		}
		ch, err := gw.GetCharge(ctx, out.ChargeID)
		if err != nil {
			return nil, fmt.Errorf("charge %s: %w", out.ChargeID, err)
		}
		if out.PaymentIntentID == "" {
			out.PaymentIntentID = ch.PaymentIntentID
		}
		btID = ch.BalanceTransactionID
	}
	if btID == "" {
		return nil, ErrFeeUnavailable
	}

	fee, err := gw.GetBalanceTransactionFee(ctx, btID)
	if err != nil {
		return nil, fmt.Errorf("balance transaction %s: %w", btID, err)
	}
	out.Fee = *fee
	return out, nil
}
