package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/database"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/gateway"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBatchNotFound = errors.New("settlement batch not found")
	ErrInvalidWindow = errors.New("invalid settlement window")
)

// Reporter receives the batch after every run or retry.
type Reporter interface {
	WriteBatchReport(ctx context.Context, batch *models.SettlementBatch, items []models.SettlementItem) error
}

type Service struct {
	db       *gorm.DB
	gw       gateway.Gateway
	store    *ledger.Store
	reporter Reporter
	now      func() time.Time

	mu   sync.RWMutex
	base Config
	cfg  Config
}

func NewService(db *gorm.DB, gw gateway.Gateway, store *ledger.Store, cfg Config, reporter Reporter) *Service {
	return &Service{
		db:       db,
		gw:       gw,
		store:    store,
		base:     cfg,
		cfg:      cfg,
		reporter: reporter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ApplySettings overlays stored operator overrides on the config the
// service was built with. Runs already in progress keep their values.
func (s *Service) ApplySettings(st *models.SettlementSettings) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.base.WithSettings(st)
	if err := cfg.Validate(); err != nil {
		return s.cfg, err
	}
	s.cfg = cfg
	log.Infof("[Settlement] Config updated: enabled=%t delay=%dd window=%dd min=%d", cfg.Enabled, cfg.DelayDays, cfg.WindowDays, cfg.MinTransferAmount)
	return cfg, nil
}

type RunRequest struct {
	PeriodFrom time.Time
	PeriodTo   time.Time
	Currency   string
	PayoutMode models.PayoutMode
	Trigger    models.TriggerType
}

type RunResult struct {
	Batch   *models.SettlementBatch
	Created bool
}

// RunSettlementBatch creates and executes the batch for a window. A second
// call for the same window returns the existing batch unchanged.
func (s *Service) RunSettlementBatch(ctx context.Context, req RunRequest) (*RunResult, error) {
	req = s.normalize(req)
	if !req.PeriodFrom.Before(req.PeriodTo) {
		return nil, fmt.Errorf("%w: %s is not before %s", ErrInvalidWindow, req.PeriodFrom.Format(time.RFC3339), req.PeriodTo.Format(time.RFC3339))
	}

	if existing, err := s.findByWindow(ctx, s.db, req); err == nil {
		log.Infof("[Settlement] Batch %d already exists for %s..%s, returning it", existing.ID, req.PeriodFrom.Format(time.RFC3339), req.PeriodTo.Format(time.RFC3339))
		return &RunResult{Batch: existing}, nil
	} else if !errors.Is(err, ErrBatchNotFound) {
		return nil, err
	}

	results, err := Compute(ctx, s.db, s.store, s.Config(), Window{
		From:       req.PeriodFrom,
		To:         req.PeriodTo,
		Currency:   req.Currency,
		PayoutMode: req.PayoutMode,
	})
	if err != nil {
		return nil, fmt.Errorf("compute settlement: %w", err)
	}

	batch, created, err := s.createBatch(ctx, req, results)
	if err != nil {
		return nil, err
	}
	if !created {
		return &RunResult{Batch: batch}, nil
	}
	log.Infof("[Settlement] Created batch %d (%s) with %d hosts, trigger=%s", batch.ID, batch.Status, len(results), batch.TriggerType)

	if s.Config().Enabled {
		if err := s.executeBatch(ctx, batch, false); err != nil {
			return nil, err
		}
	}
	batch, err = s.finalize(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	metrics.SettlementBatches.WithLabelValues(string(batch.Status), string(batch.TriggerType)).Inc()
	s.report(ctx, batch)
	return &RunResult{Batch: batch, Created: true}, nil
}

// RetrySettlementBatch re-runs every non-terminal item of the batch,
// reclaiming items whose processing claim went stale.
func (s *Service) RetrySettlementBatch(ctx context.Context, batchID uint) (*models.SettlementBatch, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.IsTerminal() || !s.Config().Enabled {
		return batch, nil
	}

	if _, err := s.reclaimStale(ctx, &batchID); err != nil {
		return nil, err
	}
	if err := s.executeBatch(ctx, batch, true); err != nil {
		return nil, err
	}
	batch, err = s.finalize(ctx, batchID)
	if err != nil {
		return nil, err
	}
	s.report(ctx, batch)
	return batch, nil
}

// RetryDueItems sweeps items across batches whose retry time has come.
func (s *Service) RetryDueItems(ctx context.Context, limit int) (int, error) {
	if !s.Config().Enabled {
		return 0, nil
	}
	if _, err := s.reclaimStale(ctx, nil); err != nil {
		return 0, err
	}

	var items []models.SettlementItem
	err := s.db.WithContext(ctx).
		Joins("JOIN settlement_batches ON settlement_batches.id = settlement_items.batch_id").
		Where("settlement_batches.status <> ?", models.BatchStatusDryRun).
		Where("settlement_items.status IN ? AND settlement_items.stripe_transfer_id IS NULL", models.ItemClaimableFrom()).
		Where("(settlement_items.attempts < ? OR settlement_items.outcome_unknown = ?)", s.Config().ItemMaxAttempts, true).
		Where("(settlement_items.next_attempt_at IS NULL OR settlement_items.next_attempt_at <= ?)", s.now()).
		Order("settlement_items.id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return 0, fmt.Errorf("list due items: %w", err)
	}

	touched := map[uint]*models.SettlementBatch{}
	for i := range items {
		batch, ok := touched[items[i].BatchID]
		if !ok {
			if batch, err = s.GetBatch(ctx, items[i].BatchID); err != nil {
				return 0, err
			}
			touched[batch.ID] = batch
		}
		s.executeItem(ctx, batch, &items[i])
	}
	for id := range touched {
		b, err := s.finalize(ctx, id)
		if err != nil {
			return len(items), err
		}
		s.report(ctx, b)
	}
	return len(items), nil
}

func (s *Service) normalize(req RunRequest) RunRequest {
	req.PeriodFrom = req.PeriodFrom.UTC()
	req.PeriodTo = req.PeriodTo.UTC()
	if req.Currency == "" {
		req.Currency = s.Config().Currency
	}
	req.Currency = strings.ToLower(req.Currency)
	if req.PayoutMode == "" {
		req.PayoutMode = models.PayoutModeBatch
	}
	if req.Trigger == "" {
		req.Trigger = models.TriggerManual
	}
	return req
}

func (s *Service) findByWindow(ctx context.Context, db *gorm.DB, req RunRequest) (*models.SettlementBatch, error) {
	var b models.SettlementBatch
	err := db.WithContext(ctx).
		Where("period_from = ? AND period_to = ? AND currency = ?", req.PeriodFrom, req.PeriodTo, req.Currency).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Service) GetBatch(ctx context.Context, id uint) (*models.SettlementBatch, error) {
	var b models.SettlementBatch
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Service) Items(ctx context.Context, batchID uint) ([]models.SettlementItem, error) {
	var items []models.SettlementItem
	err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("host_id ASC").Find(&items).Error
	return items, err
}

// createBatch inserts the batch and its items in one transaction. The unique
// window index decides between concurrent creators; the loser reads back the
// winner's batch.
func (s *Service) createBatch(ctx context.Context, req RunRequest, results []HostResult) (*models.SettlementBatch, bool, error) {
	now := s.now()
	batch := &models.SettlementBatch{
		PeriodFrom:  req.PeriodFrom,
		PeriodTo:    req.PeriodTo,
		Currency:    req.Currency,
		PayoutMode:  req.PayoutMode,
		Status:      models.BatchStatusPending,
		TriggerType: req.Trigger,
		TotalHosts:  len(results),
		StartedAt:   &now,
	}
	if !s.Config().Enabled {
		batch.Status = models.BatchStatusDryRun
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period_from"}, {Name: "period_to"}, {Name: "currency"}},
			DoNothing: true,
		}).Create(batch)
		if res.Error != nil {
			return fmt.Errorf("insert batch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			existing, err := s.findByWindow(ctx, tx, req)
			if err != nil {
				return err
			}
			batch = existing
			return nil
		}
		created = true

		for _, r := range results {
			item, err := s.itemFromResult(batch.ID, r)
			if err != nil {
				return err
			}
			if err := tx.Create(item).Error; err != nil {
				return fmt.Errorf("insert item for host %d: %w", r.HostID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return batch, created, nil
}

func (s *Service) itemFromResult(batchID uint, r HostResult) (*models.SettlementItem, error) {
	ids, err := json.Marshal(r.PaymentIDs)
	if err != nil {
		return nil, err
	}
	item := &models.SettlementItem{
		BatchID:           batchID,
		HostID:            r.HostID,
		Currency:          r.Currency,
		EligibleNet:       r.EligibleNet,
		PaidTotal:         r.PaidTotal,
		HostBalance:       r.HostBalance,
		SettleAmount:      r.SettleAmount,
		CarryReceivable:   r.CarryReceivable,
		Status:            r.Status,
		BlockedReasons:    strings.Join(r.BlockedReasons, ","),
		PaymentIDs:        datatypes.JSON(ids),
		StripeDestination: r.Destination,
	}
	if !s.Config().Enabled && item.Status == models.ItemStatusPending {
		item.Status = models.ItemStatusDryRun
	}
	return item, nil
}

// executeBatch runs every claimable item. Item failures are recorded on the
// item and never abort the batch.
func (s *Service) executeBatch(ctx context.Context, batch *models.SettlementBatch, retry bool) error {
	statuses := []models.SettlementItemStatus{models.ItemStatusPending}
	if retry {
		statuses = models.ItemClaimableFrom()
	}
	var items []models.SettlementItem
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND status IN ? AND settle_amount > 0", batch.ID, statuses).
		Order("host_id ASC").
		Find(&items).Error
	if err != nil {
		return fmt.Errorf("load items of batch %d: %w", batch.ID, err)
	}
	for i := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.executeItem(ctx, batch, &items[i])
	}
	return nil
}

// executeItem re-checks the destination, claims the item, calls the gateway
// and records the outcome.
func (s *Service) executeItem(ctx context.Context, batch *models.SettlementBatch, item *models.SettlementItem) {
	if item.IsTerminal() {
		return
	}
	var acct models.PayoutAccount
	err := s.db.WithContext(ctx).Where("host_id = ?", item.HostID).First(&acct).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Errorf("[Settlement] Item %d: load payout account: %v", item.ID, err)
		return
	}
	if !acct.IsVerified() || acct.SettlementFrozen {
		reason := models.ReasonAccountNotOnboarded
		if acct.IsVerified() {
			reason = models.ReasonFrozenByOps
		}
		if err := s.blockItem(ctx, item, reason); err != nil {
			log.Errorf("[Settlement] Item %d: block: %v", item.ID, err)
		}
		return
	}

	claimed, err := s.claimItem(ctx, item.ID, acct.StripeAccountID)
	if err != nil {
		log.Errorf("[Settlement] Item %d: claim: %v", item.ID, err)
		return
	}
	if !claimed {
		log.Debugf("[Settlement] Item %d already claimed or finished", item.ID)
		return
	}

	tr, err := s.gw.CreateTransfer(ctx, gateway.TransferRequest{
		Amount:         item.SettleAmount,
		Currency:       item.Currency,
		Destination:    acct.StripeAccountID,
		TransferGroup:  fmt.Sprintf("settlement_batch_%d", batch.ID),
		IdempotencyKey: TransferIdempotencyKey(item.ID),
		Metadata: map[string]string{
			"settlementBatchId": strconv.FormatUint(uint64(batch.ID), 10),
			"settlementItemId":  strconv.FormatUint(uint64(item.ID), 10),
			"hostId":            strconv.FormatUint(uint64(item.HostID), 10),
			"periodFrom":        batch.PeriodFrom.UTC().Format(time.RFC3339),
			"periodTo":          batch.PeriodTo.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		if outcomeUnknown(err) {
			log.Warnf("[Settlement] Item %d (host %d): transfer outcome unknown, retrying with the same key: %v", item.ID, item.HostID, err)
		} else {
			log.Warnf("[Settlement] Item %d (host %d): transfer failed: %v", item.ID, item.HostID, err)
		}
		metrics.SettlementTransfers.WithLabelValues("failed").Inc()
		if markErr := s.failItem(ctx, item.ID, err); markErr != nil {
			log.Errorf("[Settlement] Item %d: record failure: %v", item.ID, markErr)
		}
		return
	}

	if err := s.completeItem(ctx, batch, item, tr.ID); err != nil {
		// the item stays in processing and is reclaimed once stale; the
		// idempotency key returns the same transfer on retry
		log.Errorf("[Settlement] Item %d: transfer %s succeeded but recording failed: %v", item.ID, tr.ID, err)
		return
	}
	metrics.SettlementTransfers.WithLabelValues("completed").Inc()
	metrics.SettlementTransferredAmount.WithLabelValues(item.Currency).Add(float64(item.SettleAmount))
	log.Infof("[Settlement] Item %d: transferred %d %s to host %d (%s)", item.ID, item.SettleAmount, item.Currency, item.HostID, tr.ID)
}

func TransferIdempotencyKey(itemID uint) string {
	return fmt.Sprintf("settlement_item_%d", itemID)
}

// outcomeUnknown reports whether a failed transfer call may still have
// created the transfer on the gateway side.
func outcomeUnknown(err error) bool {
	return gateway.IsTransient(err) || errors.Is(err, context.Canceled)
}

// claimItem is the only way an item enters processing. The predicate makes
// concurrent callers race on a single row update. An item whose previous
// outcome is unknown is claimable past the attempt cap.
func (s *Service) claimItem(ctx context.Context, itemID uint, destination string) (bool, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.SettlementItem{}).
		Where("id = ? AND status IN ? AND stripe_transfer_id IS NULL", itemID, models.ItemStatusesInto(models.ItemStatusProcessing)).
		Where("(attempts < ? OR outcome_unknown = ?)", s.Config().ItemMaxAttempts, true).
		Updates(map[string]any{
			"status":             models.ItemStatusProcessing,
			"attempts":           gorm.Expr("attempts + 1"),
			"claimed_at":         now,
			"stripe_destination": destination,
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) blockItem(ctx context.Context, item *models.SettlementItem, reason string) error {
	reasons := item.Reasons()
	found := false
	for _, r := range reasons {
		if r == reason {
			found = true
		}
	}
	if !found {
		reasons = append(reasons, reason)
	}
	return s.db.WithContext(ctx).Model(&models.SettlementItem{}).
		Where("id = ? AND status IN ? AND stripe_transfer_id IS NULL AND outcome_unknown = ?",
			item.ID, models.ItemStatusesInto(models.ItemStatusBlocked), false).
		Updates(map[string]any{
			"status":          models.ItemStatusBlocked,
			"settle_amount":   0,
			"blocked_reasons": strings.Join(reasons, ","),
			"next_attempt_at": nil,
			"updated_at":      s.now(),
		}).Error
}

// failItem records a failed transfer call. Only a definitive rejection
// clears the unknown-outcome flag.
func (s *Service) failItem(ctx context.Context, itemID uint, cause error) error {
	next := s.now().Add(s.Config().ItemRetryDelay)
	res := s.db.WithContext(ctx).Model(&models.SettlementItem{}).
		Where("id = ? AND status IN ?", itemID, models.ItemStatusesInto(models.ItemStatusFailed)).
		Updates(map[string]any{
			"status":          models.ItemStatusFailed,
			"next_attempt_at": next,
			"last_error":      models.Truncate(cause.Error(), 2000),
			"outcome_unknown": outcomeUnknown(cause),
			"updated_at":      s.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: item %d is not processing", models.ErrInvalidTransition, itemID)
	}
	return nil
}

// completeItem records the transfer and marks the item's payments settled in
// one transaction.
func (s *Service) completeItem(ctx context.Context, batch *models.SettlementBatch, item *models.SettlementItem, transferID string) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SettlementItem{}).
			Where("id = ? AND status IN ?", item.ID, models.ItemStatusesInto(models.ItemStatusCompleted)).
			Updates(map[string]any{
				"status":             models.ItemStatusCompleted,
				"stripe_transfer_id": transferID,
				"completed_at":       now,
				"next_attempt_at":    nil,
				"last_error":         "",
				"outcome_unknown":    false,
				"updated_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("item %d left processing before completion", item.ID)
		}

		ids, err := item.SettledPaymentIDs()
		if err != nil {
			return fmt.Errorf("decode payment ids: %w", err)
		}
		return markPaymentsSettled(tx, ids, batch.ID, now)
	})
}

// settlementAmountExpr = gross - processorFee - netPlatformFee - refundedGross
const settlementAmountExpr = "amount - COALESCE(stripe_fee_amount_actual, stripe_fee_amount_estimated) - (platform_fee - refunded_platform_fee) - refunded_amount"

func markPaymentsSettled(tx *gorm.DB, paymentIDs []uint, batchID uint, now time.Time) error {
	if len(paymentIDs) == 0 {
		return nil
	}
	return tx.Model(&models.Payment{}).
		Where("id IN ? AND settlement_status <> ?", paymentIDs, models.SettlementStatusSettled).
		Updates(map[string]any{
			"settlement_status":   models.SettlementStatusSettled,
			"settlement_amount":   gorm.Expr(settlementAmountExpr),
			"settlement_batch_id": batchID,
			"settled_at":          now,
			"updated_at":          now,
		}).Error
}

// reclaimStale fails processing items whose claim is older than
// StaleClaimAfter, optionally limited to one batch. The transfer call of a
// stale claim may have gone through, so the outcome is marked unknown.
func (s *Service) reclaimStale(ctx context.Context, batchID *uint) (int64, error) {
	staleBefore := s.now().Add(-s.Config().StaleClaimAfter)
	q := s.db.WithContext(ctx).Model(&models.SettlementItem{}).
		Where("status IN ? AND stripe_transfer_id IS NULL AND claimed_at < ?", models.ItemStatusesInto(models.ItemStatusFailed), staleBefore)
	if batchID != nil {
		q = q.Where("batch_id = ?", *batchID)
	}
	res := q.Updates(map[string]any{
		"status":          models.ItemStatusFailed,
		"last_error":      "processing claim expired",
		"outcome_unknown": true,
		"next_attempt_at": s.now(),
		"updated_at":      s.now(),
	})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Warnf("[Settlement] Reclaimed %d stale processing items", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

// deriveBatchStatus maps item states to the batch state. A batch is blocked
// only when every item is blocked. Failed items keep their retry schedule; a
// later sweep can still move the batch to completed.
func deriveBatchStatus(c batchCounts, enabled bool) models.SettlementBatchStatus {
	switch {
	case !enabled:
		return models.BatchStatusDryRun
	case c.inFlight > 0:
		return models.BatchStatusPending
	case c.completed == 0 && c.failed == 0:
		if c.blocked > 0 && c.skipped == 0 {
			return models.BatchStatusBlocked
		}
		return models.BatchStatusCompleted
	case c.failed > 0 && c.completed == 0:
		return models.BatchStatusFailed
	case c.failed > 0:
		return models.BatchStatusPartialFailed
	default:
		return models.BatchStatusCompleted
	}
}

type batchCounts struct {
	inFlight, blocked, skipped, completed, failed int
	settleTotal, transferred                      int64
}

func countItems(items []models.SettlementItem) batchCounts {
	var c batchCounts
	for _, it := range items {
		c.settleTotal += it.SettleAmount
		switch it.Status {
		case models.ItemStatusPending, models.ItemStatusProcessing:
			c.inFlight++
		case models.ItemStatusFailed:
			c.failed++
		case models.ItemStatusBlocked:
			c.blocked++
		case models.ItemStatusSkipped:
			c.skipped++
		case models.ItemStatusCompleted:
			c.completed++
			c.transferred += it.SettleAmount
		}
	}
	return c
}

// finalize recomputes counts and status from the items.
func (s *Service) finalize(ctx context.Context, batchID uint) (*models.SettlementBatch, error) {
	var out models.SettlementBatch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.SettlementBatch
		if err := tx.Clauses(database.ForUpdate(tx)...).First(&batch, batchID).Error; err != nil {
			return err
		}
		var items []models.SettlementItem
		if err := tx.Where("batch_id = ?", batchID).Find(&items).Error; err != nil {
			return err
		}

		c := countItems(items)
		next := deriveBatchStatus(c, batch.Status != models.BatchStatusDryRun)
		if next != batch.Status {
			if err := models.CheckBatchTransition(batch.Status, next); err != nil {
				log.Warnf("[Settlement] Batch %d: %v", batch.ID, err)
				next = batch.Status
			}
		}

		now := s.now()
		updates := map[string]any{
			"status":              next,
			"pending_count":       c.inFlight,
			"blocked_count":       c.blocked,
			"skipped_count":       c.skipped,
			"completed_count":     c.completed,
			"failed_count":        c.failed,
			"total_settle_amount": c.settleTotal,
			"total_transferred":   c.transferred,
			"updated_at":          now,
		}
		if c.inFlight == 0 {
			updates["finished_at"] = now
		}
		if err := tx.Model(&batch).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&out, batchID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("finalize batch %d: %w", batchID, err)
	}
	return &out, nil
}

func (s *Service) report(ctx context.Context, batch *models.SettlementBatch) {
	if s.reporter == nil {
		return
	}
	items, err := s.Items(ctx, batch.ID)
	if err != nil {
		log.Errorf("[Settlement] Batch %d: load items for report: %v", batch.ID, err)
		return
	}
	if err := s.reporter.WriteBatchReport(ctx, batch, items); err != nil {
		log.Errorf("[Settlement] Batch %d: write report: %v", batch.ID, err)
	}
}
