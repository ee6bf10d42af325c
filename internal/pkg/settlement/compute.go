package settlement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/ledger"
	"gorm.io/gorm"
)

// Window is the half-open period [From, To) settled for one currency.
type Window struct {
	From       time.Time
	To         time.Time
	Currency   string
	PayoutMode models.PayoutMode
}

type bucket int

const (
	bucketSettleable bucket = iota
	bucketNotMatured
	bucketDisputed
	bucketMissingEligibility
	bucketFrozen
)

// reasonOrder fixes the order reasons are reported in.
var reasonOrder = []string{
	models.ReasonAccountNotOnboarded,
	models.ReasonFrozenByOps,
	models.ReasonBelowMinTransferAmount,
	models.ReasonDisputeOpen,
	models.ReasonNotMatured,
	models.ReasonMissingEligibilitySource,
}

// HostResult is one host's computed share of a window.
type HostResult struct {
	HostID          uint                        `json:"host_id"`
	Currency        string                      `json:"currency"`
	EligibleNet     int64                       `json:"eligible_net"`
	PaidTotal       int64                       `json:"paid_total"`
	HostBalance     int64                       `json:"host_balance"`
	SettleAmount    int64                       `json:"settle_amount"`
	CarryReceivable int64                       `json:"carry_receivable"`
	Status          models.SettlementItemStatus `json:"status"`
	BlockedReasons  []string                    `json:"blocked_reasons"`
	PaymentIDs      []uint                      `json:"payment_ids"`
	Destination     string                      `json:"destination"`
}

// classify puts a payment into exactly one bucket. Disputes win over every
// other condition, then ops freezes, then missing or future eligibility.
func classify(p *models.Payment, periodTo time.Time) bucket {
	switch {
	case p.Status == models.PaymentStatusDisputed || p.EligibilityStatus == models.EligibilityException:
		return bucketDisputed
	case p.SettlementFrozen:
		return bucketFrozen
	case p.EligibleAt == nil:
		return bucketMissingEligibility
	case p.EligibleAt.After(periodTo):
		return bucketNotMatured
	default:
		return bucketSettleable
	}
}

func (b bucket) reason() string {
	switch b {
	case bucketNotMatured:
		return models.ReasonNotMatured
	case bucketDisputed:
		return models.ReasonDisputeOpen
	case bucketMissingEligibility:
		return models.ReasonMissingEligibilitySource
	case bucketFrozen:
		return models.ReasonFrozenByOps
	}
	return ""
}

var computedStatuses = []models.PaymentStatus{
	models.PaymentStatusPaid,
	models.PaymentStatusPartialRefunded,
	models.PaymentStatusRefunded,
	models.PaymentStatusDisputed,
}

type hostState struct {
	settleable []uint
	blocked    map[string]bool
}

// Compute is a pure read of the ledger and payment state for the window.
// Calling it twice over the same state yields identical results, ordered by
// host id.
func Compute(ctx context.Context, db *gorm.DB, store *ledger.Store, cfg Config, w Window) ([]HostResult, error) {
	if !w.From.Before(w.To) {
		return nil, fmt.Errorf("empty settlement window %s..%s", w.From, w.To)
	}
	to := w.To.UTC()
	db = db.WithContext(ctx)

	var payments []models.Payment
	err := db.Where("status IN ? AND paid_at IS NOT NULL AND paid_at < ? AND payout_mode = ? AND currency = ?",
		computedStatuses, to, w.PayoutMode, w.Currency).
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}

	hosts := map[uint]*hostState{}
	var settleableIDs []uint
	for i := range payments {
		p := &payments[i]
		st, ok := hosts[p.HostID]
		if !ok {
			st = &hostState{blocked: map[string]bool{}}
			hosts[p.HostID] = st
		}
		b := classify(p, to)
		if b == bucketSettleable {
			st.settleable = append(st.settleable, p.ID)
			settleableIDs = append(settleableIDs, p.ID)
			continue
		}
		st.blocked[b.reason()] = true
	}
	if len(hosts) == 0 {
		return []HostResult{}, nil
	}

	hostIDs := make([]uint, 0, len(hosts))
	for id := range hosts {
		hostIDs = append(hostIDs, id)
	}
	sort.Slice(hostIDs, func(i, j int) bool { return hostIDs[i] < hostIDs[j] })

	payable, err := store.SumByHost(ctx, db, settleableIDs, models.LedgerEntryHostPayable, to)
	if err != nil {
		return nil, err
	}
	reversed, err := store.SumByHost(ctx, db, settleableIDs, models.LedgerEntryHostPayableReversal, to)
	if err != nil {
		return nil, err
	}
	paid, err := paidTotals(db, hostIDs, w.Currency, cfg.ItemMaxAttempts)
	if err != nil {
		return nil, err
	}
	accounts, err := payoutAccounts(db, hostIDs)
	if err != nil {
		return nil, err
	}

	out := make([]HostResult, 0, len(hostIDs))
	for _, hostID := range hostIDs {
		st := hosts[hostID]
		r := HostResult{
			HostID:      hostID,
			Currency:    w.Currency,
			EligibleNet: payable[hostID] - reversed[hostID],
			PaidTotal:   paid[hostID],
			PaymentIDs:  st.settleable,
		}
		if r.PaymentIDs == nil {
			r.PaymentIDs = []uint{}
		}
		r.HostBalance = r.EligibleNet - r.PaidTotal
		candidate := max(r.HostBalance, 0)
		r.CarryReceivable = max(-r.HostBalance, 0)

		reasons := map[string]bool{}
		acct := accounts[hostID]
		if !acct.IsVerified() {
			reasons[models.ReasonAccountNotOnboarded] = true
		} else {
			r.Destination = acct.StripeAccountID
		}
		if acct != nil && acct.SettlementFrozen {
			reasons[models.ReasonFrozenByOps] = true
		}
		if candidate > 0 && candidate < minTransferFor(acct, cfg) {
			reasons[models.ReasonBelowMinTransferAmount] = true
		}
		// blocked payments only explain a host that has nothing to pay out
		if candidate <= 0 {
			for reason := range st.blocked {
				reasons[reason] = true
			}
		}
		r.BlockedReasons = orderedReasons(reasons)

		switch {
		case len(r.BlockedReasons) > 0:
			r.Status = models.ItemStatusBlocked
		case candidate > 0:
			r.Status = models.ItemStatusPending
			r.SettleAmount = candidate
		default:
			r.Status = models.ItemStatusSkipped
		}
		out = append(out, r)
	}
	return out, nil
}

func orderedReasons(set map[string]bool) []string {
	out := []string{}
	for _, r := range reasonOrder {
		if set[r] {
			out = append(out, r)
		}
	}
	return out
}

func minTransferFor(acct *models.PayoutAccount, cfg Config) int64 {
	if acct != nil && acct.MinTransferAmount != nil {
		return *acct.MinTransferAmount
	}
	return cfg.MinTransferAmount
}

// paidTotals sums what was transferred or is still on its way to each host:
// completed items, claimed or unclaimed items, and failed items that are
// either retryable or whose last transfer call has an unknown outcome.
func paidTotals(db *gorm.DB, hostIDs []uint, currency string, maxAttempts int) (map[uint]int64, error) {
	type row struct {
		HostID uint
		Total  int64
	}
	var rows []row
	err := db.Model(&models.SettlementItem{}).
		Select("host_id, COALESCE(SUM(settle_amount), 0) AS total").
		Where("host_id IN ? AND currency = ?", hostIDs, currency).
		Where("(status IN ? OR (status = ? AND (attempts < ? OR outcome_unknown = ?)))",
			[]models.SettlementItemStatus{models.ItemStatusCompleted, models.ItemStatusPending, models.ItemStatusProcessing},
			models.ItemStatusFailed, maxAttempts, true).
		Group("host_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum settled items: %w", err)
	}
	out := make(map[uint]int64, len(rows))
	for _, r := range rows {
		out[r.HostID] = r.Total
	}
	return out, nil
}

func payoutAccounts(db *gorm.DB, hostIDs []uint) (map[uint]*models.PayoutAccount, error) {
	var list []models.PayoutAccount
	if err := db.Where("host_id IN ?", hostIDs).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("load payout accounts: %w", err)
	}
	out := make(map[uint]*models.PayoutAccount, len(list))
	for i := range list {
		out[list[i].HostID] = &list[i]
	}
	return out, nil
}
