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

func TestManager_GetQueue(t *testing.T) {
	queue := NewQueue(nil, 1)
	manager := NewManager(queue)
	assert.Same(t, queue, manager.GetQueue())
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(nil)

	assert.False(t, manager.IsRunning())
	manager.Stop()
	assert.False(t, manager.IsRunning())
}

func TestManager_RunsPeriodicTasks(t *testing.T) {
	var sweeps, ticks atomic.Int32
	manager := NewManager(nil,
		PeriodicTask{Name: "event-sweep", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			sweeps.Add(1)
			return nil
		}},
		PeriodicTask{Name: "scheduler", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			ticks.Add(1)
			return errors.New("keeps going")
		}},
		PeriodicTask{Name: "disabled"},
	)

	manager.Start()
	assert.True(t, manager.IsRunning())
	require.Eventually(t, func() bool {
		return sweeps.Load() >= 2 && ticks.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	manager.Stop()
	assert.False(t, manager.IsRunning())

	stopped := sweeps.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, sweeps.Load())
}

func TestManager_Restart(t *testing.T) {
	var runs atomic.Int32
	manager := NewManager(nil, PeriodicTask{Name: "item-retry", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}})

	manager.Start()
	manager.Stop()
	before := runs.Load()

	manager.Start()
	defer manager.Stop()
	require.Eventually(t, func() bool { return runs.Load() > before }, 2*time.Second, 5*time.Millisecond)
}

func TestManager_TaskContextCancelledOnStop(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	manager := NewManager(nil, PeriodicTask{Name: "slow", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}})

	manager.Start()
	<-started
	manager.Stop()
	assert.True(t, cancelled.Load())
}

func TestManager_RunTaskOnce(t *testing.T) {
	manager := NewManager(nil,
		PeriodicTask{Name: "ok", Interval: time.Hour, Run: func(ctx context.Context) error { return nil }},
		PeriodicTask{Name: "panics", Interval: time.Hour, Run: func(ctx context.Context) error { panic("sweep") }},
	)

	assert.Equal(t, []string{"ok", "panics"}, manager.TaskNames())
	assert.NoError(t, manager.RunTaskOnce(context.Background(), "ok"))
	assert.ErrorContains(t, manager.RunTaskOnce(context.Background(), "panics"), "sweep")
	assert.Error(t, manager.RunTaskOnce(context.Background(), "missing"))
}
