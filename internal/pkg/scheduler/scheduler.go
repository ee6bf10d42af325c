package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/ManuelReschke/HostPayouts/app/models"
	"github.com/ManuelReschke/HostPayouts/internal/pkg/settlement"
	"github.com/gofiber/fiber/v2/log"
)

const tokenTTL = 48 * time.Hour

// Deduper hands out a token at most once per key.
type Deduper interface {
	AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Runner is the batch entry point the scheduler triggers.
type Runner interface {
	RunSettlementBatch(ctx context.Context, req settlement.RunRequest) (*settlement.RunResult, error)
}

// Scheduler triggers the daily automatic settlement run.
type Scheduler struct {
	runner  Runner
	dedupe  Deduper
	config  func() settlement.Config
	now     func() time.Time
	mu      sync.Mutex
	lastDay string
}

// New creates a scheduler. config is re-read on every tick so operator
// overrides apply without a restart.
func New(runner Runner, dedupe Deduper, config func() settlement.Config) *Scheduler {
	return &Scheduler{
		runner: runner,
		dedupe: dedupe,
		config: config,
		now:    time.Now,
	}
}

// ZonedTimeToUTC returns the instant at which the wall clock in loc shows the
// given fields. Wall times skipped by a DST gap resolve to the first valid
// instant after the gap.
func ZonedTimeToUTC(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Hour() != hour || t.Minute() != minute {
		// inside a gap; time.Date normalizes by the pre-transition offset
		for probe := time.Date(year, month, day, 0, 0, 0, 0, loc); probe.Day() == day; probe = probe.Add(time.Minute) {
			local := probe.In(loc)
			if local.Hour()*60+local.Minute() >= hour*60+minute {
				return local.UTC()
			}
		}
	}
	return t.UTC()
}

// Window returns the batch window for a run on the local calendar day of
// runAt: it ends at local midnight of that day and spans windowDays days.
func Window(runAt time.Time, windowDays int, loc *time.Location) (time.Time, time.Time) {
	local := runAt.In(loc)
	to := ZonedTimeToUTC(local.Year(), local.Month(), local.Day(), 0, 0, loc)
	fromDay := time.Date(local.Year(), local.Month(), local.Day()-windowDays, 12, 0, 0, 0, loc)
	from := ZonedTimeToUTC(fromDay.Year(), fromDay.Month(), fromDay.Day(), 0, 0, loc)
	return from, to
}

// DedupKey is the calendar-day token for the run on localDay.
func DedupKey(localDay time.Time) string {
	return "settlement:auto:" + localDay.Format("2006-01-02")
}

// Tick runs the automatic batch when the local clock has reached the run
// time and today's token has not been taken yet. It reports whether a run
// was triggered by this call.
func (s *Scheduler) Tick(ctx context.Context) (bool, error) {
	cfg := s.config()
	if !cfg.Enabled {
		return false, nil
	}
	loc := cfg.Location()
	now := s.now()
	local := now.In(loc)

	runAt := ZonedTimeToUTC(local.Year(), local.Month(), local.Day(), cfg.RunHour, cfg.RunMinute, loc)
	if now.Before(runAt) {
		return false, nil
	}

	key := DedupKey(local)
	s.mu.Lock()
	done := s.lastDay == key
	s.mu.Unlock()
	if done {
		return false, nil
	}

	acquired, err := s.dedupe.AcquireOnce(ctx, key, tokenTTL)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	s.mu.Lock()
	s.lastDay = key
	s.mu.Unlock()
	if !acquired {
		log.Debugf("[Scheduler] %s already taken by another worker", key)
		return false, nil
	}

	from, to := Window(now, cfg.WindowDays, loc)
	log.Infof("[Scheduler] Running automatic settlement for %s..%s (%s)", from.Format(time.RFC3339), to.Format(time.RFC3339), cfg.TimeZone)
	res, err := s.runner.RunSettlementBatch(ctx, settlement.RunRequest{
		PeriodFrom: from,
		PeriodTo:   to,
		Currency:   cfg.Currency,
		PayoutMode: models.PayoutModeBatch,
		Trigger:    models.TriggerAuto,
	})
	if err != nil {
		s.release(ctx, key)
		return true, fmt.Errorf("automatic settlement run: %w", err)
	}
	log.Infof("[Scheduler] Batch %d status=%s created=%t", res.Batch.ID, res.Batch.Status, res.Created)
	return true, nil
}

// release gives the day's token back after a failed run so the next tick
// tries again. The batch window's unique index still guards against a
// second batch.
func (s *Scheduler) release(ctx context.Context, key string) {
	s.mu.Lock()
	s.lastDay = ""
	s.mu.Unlock()
	r, ok := s.dedupe.(interface {
		Release(ctx context.Context, key string) error
	})
	if !ok {
		return
	}
	if err := r.Release(ctx, key); err != nil {
		log.Warnf("[Scheduler] release %s: %v", key, err)
	}
}

// Run ticks once per interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("[Scheduler] Started (interval=%s)", interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("[Scheduler] Stopping")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				log.Errorf("[Scheduler] %v", err)
			}
		}
	}
}
