package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// PeriodicTask runs Run every Interval while the manager is running.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Manager owns the job queue and the periodic sweeps around it
type Manager struct {
	queue   *Queue
	tasks   []PeriodicTask
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewManager(queue *Queue, tasks ...PeriodicTask) *Manager {
	return &Manager{queue: queue, tasks: tasks}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// fresh channel per cycle so the manager can be restarted
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	for _, task := range m.tasks {
		if task.Interval <= 0 || task.Run == nil {
			log.Warnf("[JobQueue Manager] Skipping task %q: no interval or run func", task.Name)
			continue
		}
		m.wg.Add(1)
		go m.taskWorker(ctx, task)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	close(m.stopCh)
	m.cancel()
	m.running = false

	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) taskWorker(ctx context.Context, task PeriodicTask) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.Name, task.Interval)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	stopCh := m.stopCh

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", task.Name)
			return
		case <-ticker.C:
			if err := runTask(ctx, task); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", task.Name, err)
			}
		}
	}
}

func runTask(ctx context.Context, task PeriodicTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx)
}

// RunTaskOnce triggers a single run of the named task (admin use).
func (m *Manager) RunTaskOnce(ctx context.Context, name string) error {
	for _, task := range m.tasks {
		if task.Name == name {
			return runTask(ctx, task)
		}
	}
	return fmt.Errorf("unknown task %q", name)
}

// TaskNames lists the configured periodic tasks.
func (m *Manager) TaskNames() []string {
	names := make([]string, 0, len(m.tasks))
	for _, task := range m.tasks {
		names = append(names, task.Name)
	}
	return names
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
