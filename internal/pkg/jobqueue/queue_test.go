package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		expectedWorkers int
	}{
		{"Valid worker count", 5, 5},
		{"Zero workers", 0, 3},
		{"Negative workers", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers)

			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedWorkers, cap(queue.workerPool))
			assert.NotNil(t, queue.handlers)
			assert.False(t, queue.running)
		})
	}
}

func TestQueue_EnqueueUnknownType(t *testing.T) {
	queue := NewQueue(nil, 1)
	_, err := queue.EnqueueJob(context.Background(), JobTypeSettlementRun, nil)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestQueue_RunRecoversPanics(t *testing.T) {
	queue := NewQueue(nil, 1)
	queue.Register(JobTypeEventReplay, func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		panic("boom")
	})

	_, err := queue.run(context.Background(), &Job{Type: JobTypeEventReplay})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = queue.run(context.Background(), &Job{Type: JobTypeBackfillFees})
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestQueue_ProcessesJobsWithRedis(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 2)

	var calls atomic.Int32
	queue.Register(JobTypeSettlementRetry, func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		calls.Add(1)
		p, err := PayloadFromMap[SettlementRetryJobPayload](job.Payload)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"batch_id": p.BatchID}, nil
	})

	ctx := context.Background()
	job, err := queue.EnqueueJob(ctx, JobTypeSettlementRetry, SettlementRetryJobPayload{BatchID: 9}.ToMap())
	require.NoError(t, err)

	queue.Start()
	defer queue.Stop()

	require.Eventually(t, func() bool {
		stored, err := queue.GetJob(ctx, job.ID)
		return err == nil && stored.Status == JobStatusCompleted
	}, 5*time.Second, 50*time.Millisecond)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 9, stored.Result["batch_id"])
	assert.Equal(t, int32(1), calls.Load())

	processing, err := queue.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, processing)

	stats, err := queue.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueue_FailedJobIsRetried(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1)
	queue.retryDelay = 10 * time.Millisecond

	var calls atomic.Int32
	queue.Register(JobTypeBackfillFees, func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return map[string]interface{}{}, nil
	})

	ctx := context.Background()
	job, err := queue.EnqueueJob(ctx, JobTypeBackfillFees, BackfillJobPayload{}.ToMap())
	require.NoError(t, err)

	queue.Start()
	defer queue.Stop()

	require.Eventually(t, func() bool {
		stored, err := queue.GetJob(ctx, job.ID)
		return err == nil && stored.Status == JobStatusCompleted
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_RecoverStuck(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	queue := NewQueue(client, 1)
	queue.Register(JobTypeEventReplay, func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		return nil, nil
	})

	ctx := context.Background()
	job, err := queue.EnqueueJob(ctx, JobTypeEventReplay, EventReplayJobPayload{EventID: 1}.ToMap())
	require.NoError(t, err)

	// simulate a worker that died after claiming the job
	dequeued, err := queue.dequeueJob(ctx)
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour)
	dequeued.Status = JobStatusProcessing
	dequeued.ProcessedAt = &old
	queue.updateJob(ctx, dequeued)

	n, err := queue.RecoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, stored.Status)
}
