// Package gateway is the boundary to the card-payment provider: fee lookups,
// transfers to connected accounts, refunds and webhook verification.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotFound         = errors.New("gateway object not found")
	ErrFeeUnavailable   = errors.New("processor fee not available yet")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Event is a verified inbound webhook event.
type Event struct {
	ID         string
	Type       string
	Created    time.Time
	Livemode   bool
	Object     json.RawMessage
	APIVersion string
}

type TransferRequest struct {
	Amount         int64
	Currency       string
	Destination    string
	TransferGroup  string
	IdempotencyKey string
	Metadata       map[string]string
}

type Transfer struct {
	ID       string
	Amount   int64
	Currency string
}

type RefundRequest struct {
	PaymentIntentID string
	ChargeID        string
	Amount          int64
	Reason          string
	IdempotencyKey  string
	Metadata        map[string]string
}

type Refund struct {
	ID       string
	Amount   int64
	ChargeID string
	Status   string
}

type Charge struct {
	ID                   string
	PaymentIntentID      string
	BalanceTransactionID string
	Amount               int64
	AmountRefunded       int64
	Currency             string
}

type PaymentIntent struct {
	ID             string
	LatestChargeID string
	Amount         int64
	Currency       string
	Status         string
}

type CheckoutSession struct {
	ID              string
	PaymentIntentID string
	PaymentStatus   string
}

// Fee is the processor fee reported on a balance transaction.
type Fee struct {
	BalanceTransactionID string
	Amount               int64
	Currency             string
	Created              time.Time
}

// Gateway is what the ledger and settlement engine consume from the provider.
// Every write carries an idempotency key so client retries cannot duplicate
// effects on the provider side.
type Gateway interface {
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	GetCharge(ctx context.Context, id string) (*Charge, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetBalanceTransactionFee(ctx context.Context, id string) (*Fee, error)
}
