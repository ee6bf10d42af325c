package jobqueue

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/backfill"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gatewayevents"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
	"github.com/gofiber/fiber/v2/log"
)

// SettlementRunner is the part of settlement.Service the jobs use.
type SettlementRunner interface {
	RunSettlementBatch(ctx context.Context, req settlement.RunRequest) (*settlement.RunResult, error)
	RetrySettlementBatch(ctx context.Context, batchID uint) (*models.SettlementBatch, error)
}

type EventReplayer interface {
	Replay(ctx context.Context, id uint) (gatewayevents.Outcome, error)
}

type LedgerBackfiller interface {
	FromPaymentFields(ctx context.Context, opts backfill.Options) (backfill.Result, error)
	FromGatewayFees(ctx context.Context, opts backfill.Options) (backfill.Result, error)
}

// RegisterHandlers binds every job type to its service call. Nil services
// leave their job types unregistered.
func RegisterHandlers(q *Queue, runner SettlementRunner, replayer EventReplayer, backfiller LedgerBackfiller) {
	if runner != nil {
		q.Register(JobTypeSettlementRun, settlementRunHandler(runner))
		q.Register(JobTypeSettlementRetry, settlementRetryHandler(runner))
	}
	if replayer != nil {
		q.Register(JobTypeEventReplay, eventReplayHandler(replayer))
	}
	if backfiller != nil {
		q.Register(JobTypeBackfillLedger, backfillHandler(backfiller.FromPaymentFields))
		q.Register(JobTypeBackfillFees, backfillHandler(backfiller.FromGatewayFees))
	}
}

func settlementRunHandler(runner SettlementRunner) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		payload, err := PayloadFromMap[SettlementRunJobPayload](job.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		res, err := runner.RunSettlementBatch(ctx, settlement.RunRequest{
			PeriodFrom: payload.PeriodFrom,
			PeriodTo:   payload.PeriodTo,
			Currency:   payload.Currency,
			PayoutMode: models.PayoutMode(payload.PayoutMode),
			Trigger:    models.TriggerManual,
		})
		if err != nil {
			return nil, err
		}
		log.Infof("[JobQueue] Settlement run job %s -> batch %d (%s)", job.ID, res.Batch.ID, res.Batch.Status)
		return batchResult(res.Batch, res.Created), nil
	}
}

func settlementRetryHandler(runner SettlementRunner) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		payload, err := PayloadFromMap[SettlementRetryJobPayload](job.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		if payload.BatchID == 0 {
			return nil, fmt.Errorf("invalid payload: batch_id is required")
		}
		batch, err := runner.RetrySettlementBatch(ctx, payload.BatchID)
		if err != nil {
			return nil, err
		}
		return batchResult(batch, false), nil
	}
}

func eventReplayHandler(replayer EventReplayer) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		payload, err := PayloadFromMap[EventReplayJobPayload](job.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		outcome, err := replayer.Replay(ctx, payload.EventID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"event_id": payload.EventID, "outcome": string(outcome)}, nil
	}
}

func backfillHandler(run func(context.Context, backfill.Options) (backfill.Result, error)) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		payload, err := PayloadFromMap[BackfillJobPayload](job.Payload)
		if err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		res, err := run(ctx, backfill.Options{BatchSize: payload.BatchSize, Limit: payload.Limit, DryRun: payload.DryRun})
		if err != nil {
			return nil, err
		}
		log.Infof("[JobQueue] Backfill job %s (%s): %s", job.ID, job.Type, res)
		return map[string]interface{}{
			"scanned": res.Scanned,
			"created": res.Created,
			"skipped": res.Skipped,
			"failed":  res.Failed,
			"dry_run": payload.DryRun,
		}, nil
	}
}

func batchResult(b *models.SettlementBatch, created bool) map[string]interface{} {
	return map[string]interface{}{
		"batch_id": b.ID,
		"status":   string(b.Status),
		"created":  created,
	}
}
