package settlement

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/reportstore"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	summaryFile = "summary.json"
	itemsFile   = "hosts.csv"
	latestDir   = "latest"
)

var csvHeader = []string{
	"item_id", "host_id", "currency", "status", "blocked_reasons",
	"eligible_net", "paid_total", "host_balance", "settle_amount", "carry_receivable",
	"attempts", "stripe_destination", "stripe_transfer_id", "last_error", "completed_at",
}

// BatchSummary is the machine-readable report written next to the CSV.
type BatchSummary struct {
	RunID             string                       `json:"run_id"`
	BatchID           uint                         `json:"batch_id"`
	PeriodFrom        time.Time                    `json:"period_from"`
	PeriodTo          time.Time                    `json:"period_to"`
	Currency          string                       `json:"currency"`
	PayoutMode        models.PayoutMode            `json:"payout_mode"`
	Status            models.SettlementBatchStatus `json:"status"`
	Trigger           models.TriggerType           `json:"trigger"`
	TotalHosts        int                          `json:"total_hosts"`
	PendingCount      int                          `json:"pending_count"`
	BlockedCount      int                          `json:"blocked_count"`
	SkippedCount      int                          `json:"skipped_count"`
	CompletedCount    int                          `json:"completed_count"`
	FailedCount       int                          `json:"failed_count"`
	TotalSettleAmount string                       `json:"total_settle_amount"`
	TotalTransferred  string                       `json:"total_transferred"`
	BlockedReasons    map[string]int               `json:"blocked_reasons"`
	GeneratedAt       time.Time                    `json:"generated_at"`
}

// NewBatchSummary builds the summary for a batch and its items.
func NewBatchSummary(batch *models.SettlementBatch, items []models.SettlementItem, now time.Time) BatchSummary {
	reasons := map[string]int{}
	for i := range items {
		for _, r := range items[i].Reasons() {
			reasons[r]++
		}
	}
	return BatchSummary{
		RunID:             uuid.NewString(),
		BatchID:           batch.ID,
		PeriodFrom:        batch.PeriodFrom.UTC(),
		PeriodTo:          batch.PeriodTo.UTC(),
		Currency:          batch.Currency,
		PayoutMode:        batch.PayoutMode,
		Status:            batch.Status,
		Trigger:           batch.TriggerType,
		TotalHosts:        batch.TotalHosts,
		PendingCount:      batch.PendingCount,
		BlockedCount:      batch.BlockedCount,
		SkippedCount:      batch.SkippedCount,
		CompletedCount:    batch.CompletedCount,
		FailedCount:       batch.FailedCount,
		TotalSettleAmount: MajorUnits(batch.TotalSettleAmount),
		TotalTransferred:  MajorUnits(batch.TotalTransferred),
		BlockedReasons:    reasons,
		GeneratedAt:       now.UTC(),
	}
}

// MajorUnits formats an amount in minor units with two decimals.
func MajorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// ExportCSV writes one row per host item.
func ExportCSV(w io.Writer, items []models.SettlementItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range items {
		it := &items[i]
		transferID := ""
		if it.StripeTransferID != nil {
			transferID = *it.StripeTransferID
		}
		completedAt := ""
		if it.CompletedAt != nil {
			completedAt = it.CompletedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			strconv.FormatUint(uint64(it.ID), 10),
			strconv.FormatUint(uint64(it.HostID), 10),
			strings.ToUpper(it.Currency),
			string(it.Status),
			strings.ReplaceAll(it.BlockedReasons, ",", ";"),
			MajorUnits(it.EligibleNet),
			MajorUnits(it.PaidTotal),
			MajorUnits(it.HostBalance),
			MajorUnits(it.SettleAmount),
			MajorUnits(it.CarryReceivable),
			strconv.Itoa(it.Attempts),
			it.StripeDestination,
			transferID,
			it.LastError,
			completedAt,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileReporter writes batch reports below Dir, once under the batch id and
// once under "latest". Uploader is optional.
type FileReporter struct {
	Dir      string
	Uploader reportstore.Uploader
	now      func() time.Time
}

func NewFileReporter(dir string, uploader reportstore.Uploader) *FileReporter {
	return &FileReporter{Dir: dir, Uploader: uploader, now: time.Now}
}

func (r *FileReporter) WriteBatchReport(ctx context.Context, batch *models.SettlementBatch, items []models.SettlementItem) error {
	summary, err := json.MarshalIndent(NewBatchSummary(batch, items, r.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	var rows bytes.Buffer
	if err := ExportCSV(&rows, items); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}

	files := []struct {
		name        string
		body        []byte
		contentType string
	}{
		{summaryFile, summary, "application/json"},
		{itemsFile, rows.Bytes(), "text/csv"},
	}

	for _, dir := range []string{reportstore.BatchDir(batch.ID), latestDir} {
		target := filepath.Join(r.Dir, dir)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
		for _, f := range files {
			if err := writeFileAtomic(filepath.Join(target, f.name), f.body); err != nil {
				return err
			}
			if r.Uploader != nil {
				if err := r.Uploader.Upload(ctx, dir, f.name, f.body, f.contentType); err != nil {
					// best effort, the local copy is authoritative
					log.Warnf("[Settlement] Batch %d: upload %s/%s failed: %v", batch.ID, dir, f.name, err)
				}
			}
		}
	}
	log.Infof("[Settlement] Batch %d report written to %s", batch.ID, filepath.Join(r.Dir, reportstore.BatchDir(batch.ID)))
	return nil
}

func writeFileAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
