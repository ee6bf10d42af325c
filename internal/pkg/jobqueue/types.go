package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeSettlementRun   JobType = "settlement_run"
	JobTypeSettlementRetry JobType = "settlement_retry"
	JobTypeEventReplay     JobType = "event_replay"
	JobTypeBackfillFees    JobType = "backfill_fees"
	JobTypeBackfillLedger  JobType = "backfill_ledger"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	Result      map[string]interface{} `json:"result,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// SettlementRunJobPayload asks for a batch over an explicit window.
type SettlementRunJobPayload struct {
	PeriodFrom time.Time `json:"period_from"`
	PeriodTo   time.Time `json:"period_to"`
	Currency   string    `json:"currency,omitempty"`
	PayoutMode string    `json:"payout_mode,omitempty"`
}

func (p SettlementRunJobPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"period_from": p.PeriodFrom.UTC().Format(time.RFC3339),
		"period_to":   p.PeriodTo.UTC().Format(time.RFC3339),
	}
	if p.Currency != "" {
		m["currency"] = p.Currency
	}
	if p.PayoutMode != "" {
		m["payout_mode"] = p.PayoutMode
	}
	return m
}

// SettlementRetryJobPayload re-runs the open items of a batch.
type SettlementRetryJobPayload struct {
	BatchID uint `json:"batch_id"`
}

func (p SettlementRetryJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{"batch_id": p.BatchID}
}

// EventReplayJobPayload re-processes one stored gateway event.
type EventReplayJobPayload struct {
	EventID uint `json:"event_id"`
}

func (p EventReplayJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{"event_id": p.EventID}
}

// BackfillJobPayload bounds a backfill run.
type BackfillJobPayload struct {
	BatchSize int  `json:"batch_size,omitempty"`
	Limit     int  `json:"limit,omitempty"`
	DryRun    bool `json:"dry_run,omitempty"`
}

func (p BackfillJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"batch_size": p.BatchSize,
		"limit":      p.Limit,
		"dry_run":    p.DryRun,
	}
}

// PayloadFromMap decodes a stored payload map into T.
func PayloadFromMap[T any](data map[string]interface{}) (*T, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload T
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
