// Package gatewayevents is the durable inbox for payment provider webhooks.
// Every event is stored before it is processed and ends either processed or
// failed with a scheduled retry.
package gatewayevents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Mutation is the business effect of an event. It runs in the same
// transaction that marks the event processed.
type Mutation func(tx *gorm.DB) error

// EventHandler prepares the mutation for one event. Provider lookups belong
// here, outside the database transaction.
type EventHandler func(ctx context.Context, ev *gateway.Event) (Mutation, error)

type Options struct {
	DelayDays    int
	StaleAfter   time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
	VerifySigned bool

	// DelayDaysFunc, when set, is read for every paid event and takes
	// precedence over DelayDays.
	DelayDaysFunc func() int
}

func DefaultOptions() Options {
	return Options{
		DelayDays:    7,
		StaleAfter:   5 * time.Minute,
		BackoffBase:  30 * time.Second,
		BackoffMax:   time.Hour,
		MaxAttempts:  12,
		VerifySigned: true,
	}
}

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

type Inbox struct {
	db       *gorm.DB
	repo     Repository
	gw       gateway.Gateway
	ledger   *ledger.Store
	opts     Options
	handlers map[string]EventHandler
	now      func() time.Time
}

func NewInbox(db *gorm.DB, gw gateway.Gateway, store *ledger.Store, opts Options) *Inbox {
	in := &Inbox{
		db:     db,
		repo:   NewRepository(db),
		gw:     gw,
		ledger: store,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
	in.handlers = in.defaultHandlers()
	return in
}

func (in *Inbox) delayDays() int {
	if in.opts.DelayDaysFunc != nil {
		return in.opts.DelayDaysFunc()
	}
	return in.opts.DelayDays
}

func (in *Inbox) Repository() Repository {
	return in.repo
}

// Receive verifies and durably stores an inbound payload. A returned error
// other than gateway.ErrInvalidSignature means the event was not stored and
// must not be acknowledged.
func (in *Inbox) Receive(ctx context.Context, payload []byte, signatureHeader string) (*models.PaymentGatewayEvent, error) {
	var (
		ev     *gateway.Event
		err    error
		signed = true
	)
	if in.opts.VerifySigned {
		ev, err = in.gw.VerifyEvent(payload, signatureHeader)
	} else {
		ev, err = gateway.ParseEvent(payload)
		signed = false
	}
	if err != nil {
		metrics.GatewayEventsReceived.WithLabelValues("rejected").Inc()
		return nil, err
	}

	sum := sha256.Sum256(payload)
	row, err := in.repo.Upsert(ctx, &models.PaymentGatewayEvent{
		Provider:        models.LedgerProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		Payload:         datatypes.JSON(payload),
		PayloadHash:     hex.EncodeToString(sum[:]),
		SignatureValid:  signed,
		Status:          models.GatewayEventReceived,
	})
	if err != nil {
		metrics.GatewayEventsReceived.WithLabelValues("persist_failed").Inc()
		return nil, err
	}
	metrics.GatewayEventsReceived.WithLabelValues("stored").Inc()
	return row, nil
}

// Process claims and runs one stored event. Business failures are recorded
// on the row; only infrastructure errors are returned.
func (in *Inbox) Process(ctx context.Context, id uint) (Outcome, error) {
	now := in.now()
	claimed, err := in.repo.Claim(ctx, id, now, now.Add(-in.opts.StaleAfter))
	if err != nil {
		return "", err
	}
	if !claimed {
		return OutcomeSkipped, nil
	}

	if err := in.run(ctx, id); err != nil {
		if errors.Is(err, errClaimLost) {
			log.Warnf("[GatewayEvents] Event %d was taken over by another worker", id)
			return OutcomeSkipped, nil
		}
		next := in.nextAttempt(in.attemptsOf(ctx, id) + 1)
		log.Warnf("[GatewayEvents] Event %d failed, retry at %s: %v", id, next.Format(time.RFC3339), err)
		if markErr := in.repo.MarkFailed(ctx, id, err.Error(), next); markErr != nil {
			return OutcomeFailed, fmt.Errorf("mark event %d failed: %w", id, markErr)
		}
		metrics.GatewayEventsProcessed.WithLabelValues(string(OutcomeFailed)).Inc()
		return OutcomeFailed, nil
	}
	metrics.GatewayEventsProcessed.WithLabelValues(string(OutcomeProcessed)).Inc()
	return OutcomeProcessed, nil
}

func (in *Inbox) run(ctx context.Context, id uint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[GatewayEvents] Panic processing event %d: %v\n%s", id, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	row, err := in.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	ev, err := gateway.ParseEvent(row.Payload)
	if err != nil {
		return err
	}

	var mutation Mutation
	if h, ok := in.handlers[ev.Type]; ok {
		mutation, err = h(ctx, ev)
		if err != nil {
			return err
		}
	} else {
		log.Debugf("[GatewayEvents] No handler for %s, recording only", ev.Type)
	}

	return in.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if mutation != nil {
			if err := mutation(tx); err != nil {
				return err
			}
		}
		return in.repo.MarkProcessed(ctx, tx, id, in.now())
	})
}

func (in *Inbox) attemptsOf(ctx context.Context, id uint) int {
	row, err := in.repo.FindByID(ctx, id)
	if err != nil {
		return 0
	}
	return row.Attempts
}

// nextAttempt doubles the delay per attempt up to BackoffMax.
func (in *Inbox) nextAttempt(attempts int) time.Time {
	d := in.opts.BackoffBase
	for i := 1; i < attempts && d < in.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > in.opts.BackoffMax {
		d = in.opts.BackoffMax
	}
	return in.now().Add(d)
}

type SweepResult struct {
	Reclaimed int
	Processed int
	Failed    int
	Skipped   int
}

// RetryOverdueEvents fails abandoned claims, then re-runs up to limit events
// whose retry time has come.
func (in *Inbox) RetryOverdueEvents(ctx context.Context, limit int) (SweepResult, error) {
	var res SweepResult
	now := in.now()

	n, err := in.repo.FailStale(ctx, now.Add(-in.opts.StaleAfter), in.nextAttempt)
	if err != nil {
		return res, fmt.Errorf("fail stale events: %w", err)
	}
	res.Reclaimed = n

	ids, err := in.repo.ListDue(ctx, now, in.opts.MaxAttempts, limit)
	if err != nil {
		return res, fmt.Errorf("list due events: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		outcome, err := in.Process(ctx, id)
		if err != nil {
			return res, err
		}
		switch outcome {
		case OutcomeProcessed:
			res.Processed++
		case OutcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	if res.Reclaimed+res.Processed+res.Failed > 0 {
		log.Infof("[GatewayEvents] Sweep: reclaimed=%d processed=%d failed=%d skipped=%d", res.Reclaimed, res.Processed, res.Failed, res.Skipped)
	}
	return res, nil
}

// Replay re-runs a stored event regardless of its retry schedule. Processed
// events stay untouched.
func (in *Inbox) Replay(ctx context.Context, id uint) (Outcome, error) {
	row, err := in.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if row.Status == models.GatewayEventProcessed {
		return OutcomeSkipped, nil
	}
	return in.Process(ctx, id)
}

var ErrPaymentNotFound = errors.New("payment not found for event")
