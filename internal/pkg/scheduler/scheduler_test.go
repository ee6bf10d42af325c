package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestZonedTimeToUTC(t *testing.T) {
	loc := berlin(t)
	tests := []struct {
		name  string
		month time.Month
		day   int
		hour  int
		min   int
		want  time.Time
	}{
		{"winter", time.January, 15, 6, 0, time.Date(2024, 1, 15, 5, 0, 0, 0, time.UTC)},
		{"summer", time.July, 15, 6, 0, time.Date(2024, 7, 15, 4, 0, 0, 0, time.UTC)},
		{"spring forward gap", time.March, 31, 2, 30, time.Date(2024, 3, 31, 1, 0, 0, 0, time.UTC)},
		{"after spring forward", time.March, 31, 6, 0, time.Date(2024, 3, 31, 4, 0, 0, 0, time.UTC)},
		{"midnight before spring forward", time.March, 31, 0, 0, time.Date(2024, 3, 30, 23, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZonedTimeToUTC(2024, tt.month, tt.day, tt.hour, tt.min, loc)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	// ambiguous wall time during fall back resolves to one of the two instants
	got := ZonedTimeToUTC(2024, time.October, 27, 2, 30, loc)
	local := got.In(loc)
	assert.Equal(t, 2, local.Hour())
	assert.Equal(t, 30, local.Minute())
}

func TestWindow_AcrossDST(t *testing.T) {
	loc := berlin(t)
	runAt := time.Date(2024, 4, 2, 4, 0, 0, 0, time.UTC)

	from, to := Window(runAt, 7, loc)
	assert.Equal(t, time.Date(2024, 4, 1, 22, 0, 0, 0, time.UTC), to)
	assert.Equal(t, time.Date(2024, 3, 25, 23, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 7*24*time.Hour-time.Hour, to.Sub(from))
}

func TestWindow_UTC(t *testing.T) {
	from, to := Window(time.Date(2024, 3, 8, 6, 0, 0, 0, time.UTC), 7, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), to)
}

type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemDeduper() *memDeduper {
	return &memDeduper{keys: map[string]bool{}}
}

func (d *memDeduper) AcquireOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *memDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []settlement.RunRequest
	err  error
}

func (r *fakeRunner) RunSettlementBatch(_ context.Context, req settlement.RunRequest) (*settlement.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &settlement.RunResult{Batch: &models.SettlementBatch{ID: uint(len(r.reqs)), Status: models.BatchStatusCompleted}, Created: true}, nil
}

func enabledConfig() settlement.Config {
	cfg := settlement.DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func TestTick_RunsOncePerLocalDay(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, newMemDeduper(), enabledConfig)
	ctx := context.Background()

	// 06:59 Berlin summer time, before the 07:00 run
	cfg := enabledConfig()
	cfg.RunHour = 7
	s.config = func() settlement.Config { return cfg }
	s.now = func() time.Time { return time.Date(2024, 7, 15, 4, 59, 0, 0, time.UTC) }
	ran, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	s.now = func() time.Time { return time.Date(2024, 7, 15, 5, 0, 0, 0, time.UTC) }
	ran, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	s.now = func() time.Time { return time.Date(2024, 7, 15, 5, 1, 0, 0, time.UTC) }
	ran, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	s.now = func() time.Time { return time.Date(2024, 7, 16, 5, 0, 0, 0, time.UTC) }
	ran, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	require.Len(t, runner.reqs, 2)
	req := runner.reqs[0]
	assert.Equal(t, models.TriggerAuto, req.Trigger)
	assert.Equal(t, models.PayoutModeBatch, req.PayoutMode)
	assert.Equal(t, "eur", req.Currency)
	assert.Equal(t, time.Date(2024, 7, 14, 22, 0, 0, 0, time.UTC), req.PeriodTo)
	assert.Equal(t, time.Date(2024, 7, 7, 22, 0, 0, 0, time.UTC), req.PeriodFrom)
	assert.Equal(t, runner.reqs[0].PeriodTo, runner.reqs[1].PeriodTo.Add(-24*time.Hour))
}

func TestTick_SharedTokenAcrossSchedulers(t *testing.T) {
	runner := &fakeRunner{}
	dedupe := newMemDeduper()
	at := func() time.Time { return time.Date(2024, 1, 10, 6, 30, 0, 0, time.UTC) }

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		s := New(runner, dedupe, enabledConfig)
		s.now = at
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Tick(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, runner.reqs, 1)
	assert.True(t, dedupe.keys["settlement:auto:2024-01-10"])
}

func TestTick_Disabled(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, newMemDeduper(), settlement.DefaultConfig)
	s.now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }

	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, runner.reqs)
}

func TestTick_FailedRunIsRetried(t *testing.T) {
	runner := &fakeRunner{err: errors.New("database unavailable")}
	dedupe := newMemDeduper()
	s := New(runner, dedupe, enabledConfig)
	s.now = func() time.Time { return time.Date(2024, 1, 10, 6, 30, 0, 0, time.UTC) }

	_, err := s.Tick(context.Background())
	assert.Error(t, err)
	assert.False(t, dedupe.keys["settlement:auto:2024-01-10"])

	runner.err = nil
	ran, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, runner.reqs, 2)
}

func TestDedupKeyUsesLocalDate(t *testing.T) {
	loc := berlin(t)
	// 23:30 UTC is already the next day in Berlin
	at := time.Date(2024, 7, 15, 23, 30, 0, 0, time.UTC).In(loc)
	assert.Equal(t, "settlement:auto:2024-07-16", DedupKey(at))
}
