// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/stripe/stripe-go/v75"
)

// Fake mimics the provider closely enough for settlement tests: writes are
// deduplicated by idempotency key and every call is counted.
type Fake struct {
	mu sync.Mutex

	Secret string

	Charges        map[string]*gateway.Charge
	PaymentIntents map[string]*gateway.PaymentIntent
	Sessions       map[string]*gateway.CheckoutSession
	Fees           map[string]*gateway.Fee

	// TransferHook runs before a transfer is recorded; a non-nil error fails the call.
	TransferHook  func(req gateway.TransferRequest) error
	TransferDelay time.Duration
	// FeeFailures makes the next N fee lookups fail with a 503.
	FeeFailures int

	TransferCalls  int
	Transfers      []gateway.TransferRequest
	transfersByKey map[string]*gateway.Transfer

	Refunds      []gateway.RefundRequest
	refundsByKey map[string]*gateway.Refund

	FeeCalls int
}

func New() *Fake {
	return &Fake{
		Secret:         "whsec_test",
		Charges:        map[string]*gateway.Charge{},
		PaymentIntents: map[string]*gateway.PaymentIntent{},
		Sessions:       map[string]*gateway.CheckoutSession{},
		Fees:           map[string]*gateway.Fee{},
		transfersByKey: map[string]*gateway.Transfer{},
		refundsByKey:   map[string]*gateway.Refund{},
	}
}

// Sign returns the signature header VerifyEvent accepts for payload.
func (f *Fake) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(f.Secret))
	mac.Write(payload)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *Fake) VerifyEvent(payload []byte, signatureHeader string) (*gateway.Event, error) {
	if !hmac.Equal([]byte(signatureHeader), []byte(f.Sign(payload))) {
		return nil, gateway.ErrInvalidSignature
	}
	return gateway.ParseEvent(payload)
}

// AddChargeWithFee registers a payment intent, its charge and balance transaction.
func (f *Fake) AddChargeWithFee(piID, chargeID, btID string, amount, fee int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PaymentIntents[piID] = &gateway.PaymentIntent{ID: piID, LatestChargeID: chargeID, Amount: amount, Currency: "eur", Status: "succeeded"}
	f.Charges[chargeID] = &gateway.Charge{ID: chargeID, PaymentIntentID: piID, BalanceTransactionID: btID, Amount: amount, Currency: "eur"}
	f.Fees[btID] = &gateway.Fee{BalanceTransactionID: btID, Amount: fee, Currency: "eur", Created: time.Now().UTC()}
}

func (f *Fake) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error) {
	f.mu.Lock()
	f.TransferCalls++
	hook := f.TransferHook
	delay := f.TransferDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if hook != nil {
		if err := hook(req); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if tr, ok := f.transfersByKey[req.IdempotencyKey]; ok {
		return tr, nil
	}
	tr := &gateway.Transfer{ID: fmt.Sprintf("tr_%d", len(f.Transfers)+1), Amount: req.Amount, Currency: req.Currency}
	f.Transfers = append(f.Transfers, req)
	f.transfersByKey[req.IdempotencyKey] = tr
	return tr, nil
}

func (f *Fake) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.refundsByKey[req.IdempotencyKey]; ok {
		return r, nil
	}
	r := &gateway.Refund{ID: fmt.Sprintf("re_%d", len(f.Refunds)+1), Amount: req.Amount, ChargeID: req.ChargeID, Status: "succeeded"}
	f.Refunds = append(f.Refunds, req)
	f.refundsByKey[req.IdempotencyKey] = r
	return r, nil
}

func (f *Fake) GetCharge(ctx context.Context, id string) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.Charges[id]; ok {
		c := *ch
		return &c, nil
	}
	return nil, gateway.ErrNotFound
}

func (f *Fake) GetPaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pi, ok := f.PaymentIntents[id]; ok {
		p := *pi
		return &p, nil
	}
	return nil, gateway.ErrNotFound
}

func (f *Fake) GetCheckoutSession(ctx context.Context, id string) (*gateway.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cs, ok := f.Sessions[id]; ok {
		s := *cs
		return &s, nil
	}
	return nil, gateway.ErrNotFound
}

func (f *Fake) GetBalanceTransactionFee(ctx context.Context, id string) (*gateway.Fee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FeeCalls++
	if f.FeeFailures > 0 {
		f.FeeFailures--
		return nil, &stripe.Error{HTTPStatusCode: 503, Msg: "service unavailable"}
	}
	if fee, ok := f.Fees[id]; ok {
		v := *fee
		return &v, nil
	}
	return nil, gateway.ErrNotFound
}

// TransferCount returns how many distinct transfers were created.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TransferCalls
}

var _ gateway.Gateway = (*Fake)(nil)
