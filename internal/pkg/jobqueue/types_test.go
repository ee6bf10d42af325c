package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"Failed job with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Failed job with no retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"Pending job", &Job{Status: JobStatusPending, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}

	before := time.Now()
	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.ProcessedAt.Before(before))

	job.MarkAsFailed("gateway down")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "gateway down", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestSettlementRunJobPayload_RoundTrip(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	in := SettlementRunJobPayload{
		PeriodFrom: time.Date(2024, 3, 1, 0, 0, 0, 0, berlin),
		PeriodTo:   time.Date(2024, 3, 8, 0, 0, 0, 0, berlin),
		Currency:   "eur",
	}

	m := in.ToMap()
	assert.Equal(t, "2024-02-29T23:00:00Z", m["period_from"])
	assert.NotContains(t, m, "payout_mode")

	// maps come back from Redis through JSON
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &stored))

	out, err := PayloadFromMap[SettlementRunJobPayload](stored)
	require.NoError(t, err)
	assert.True(t, in.PeriodFrom.Equal(out.PeriodFrom))
	assert.True(t, in.PeriodTo.Equal(out.PeriodTo))
	assert.Equal(t, "eur", out.Currency)
}

func TestIDPayloads_FromJSONNumbers(t *testing.T) {
	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"batch_id": 42}`), &stored))

	retry, err := PayloadFromMap[SettlementRetryJobPayload](stored)
	require.NoError(t, err)
	assert.Equal(t, uint(42), retry.BatchID)

	replay, err := PayloadFromMap[EventReplayJobPayload](EventReplayJobPayload{EventID: 7}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, uint(7), replay.EventID)
}

func TestPayloadFromMap_Invalid(t *testing.T) {
	_, err := PayloadFromMap[SettlementRetryJobPayload](map[string]interface{}{"batch_id": "abc"})
	assert.Error(t, err)
}

func TestBackfillJobPayload_ToMap(t *testing.T) {
	m := BackfillJobPayload{BatchSize: 200, Limit: 10, DryRun: true}.ToMap()
	out, err := PayloadFromMap[BackfillJobPayload](m)
	require.NoError(t, err)
	assert.Equal(t, BackfillJobPayload{BatchSize: 200, Limit: 10, DryRun: true}, *out)
}
