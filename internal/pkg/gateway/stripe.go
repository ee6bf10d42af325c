package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/HostPayouts/internal/pkg/env"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/client"
	"github.com/stripe/stripe-go/v75/webhook"
)

// StripeGateway implements Gateway on top of the Stripe Connect API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

func LoadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	}
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}
}

func (g *StripeGateway) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return eventFromStripe(&ev), nil
}

func eventFromStripe(ev *stripe.Event) *Event {
	out := &Event{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Created:    time.Unix(ev.Created, 0).UTC(),
		Livemode:   ev.Livemode,
		APIVersion: ev.APIVersion,
	}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &Transfer{ID: tr.ID, Amount: tr.Amount, Currency: string(tr.Currency)}, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{Amount: stripe.Int64(req.Amount)}
	switch {
	case req.ChargeID != "":
		params.Charge = stripe.String(req.ChargeID)
	case req.PaymentIntentID != "":
		params.PaymentIntent = stripe.String(req.PaymentIntentID)
	default:
		return nil, errors.New("refund needs a charge or payment intent")
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	out := &Refund{ID: r.ID, Amount: r.Amount, Status: string(r.Status)}
	if r.Charge != nil {
		out.ChargeID = r.Charge.ID
	}
	return out, nil
}

func (g *StripeGateway) GetCharge(ctx context.Context, id string) (*Charge, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := g.api.Charges.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	out := &Charge{
		ID:             ch.ID,
		Amount:         ch.Amount,
		AmountRefunded: ch.AmountRefunded,
		Currency:       string(ch.Currency),
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.BalanceTransaction != nil {
		out.BalanceTransactionID = ch.BalanceTransaction.ID
	}
	return out, nil
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	out := &PaymentIntent{ID: pi.ID, Amount: pi.Amount, Currency: string(pi.Currency), Status: string(pi.Status)}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	return out, nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	out := &CheckoutSession{ID: cs.ID, PaymentStatus: string(cs.PaymentStatus)}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	return out, nil
}

func (g *StripeGateway) GetBalanceTransactionFee(ctx context.Context, id string) (*Fee, error) {
	params := &stripe.BalanceTransactionParams{}
	params.Context = ctx
	bt, err := g.api.BalanceTransactions.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &Fee{
		BalanceTransactionID: bt.ID,
		Amount:               bt.Fee,
		Currency:             string(bt.Currency),
		Created:              time.Unix(bt.Created, 0).UTC(),
	}, nil
}

func wrapStripeErr(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
