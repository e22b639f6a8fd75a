// Package scheduler runs the recurring maintenance tasks: refreshing
// expiring links, invalidating expired ones, cleaning up old records, and
// re-checking pending torrents.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"bridgarr/config"
	"bridgarr/services/acquisition"
	"bridgarr/services/linkcache"
)

// Task names, also accepted by the run-now API endpoint.
const (
	TaskRefreshExpiring   = "refresh-expiring"
	TaskInvalidateExpired = "invalidate-expired"
	TaskCleanupOld        = "cleanup-old"
	TaskCheckPending      = "check-pending"
)

// ErrTaskRunning means the task was triggered while already executing.
var ErrTaskRunning = errors.New("task is already running")

// ErrUnknownTask means the task name is not part of the fixed task set.
var ErrUnknownTask = errors.New("unknown task")

// Service manages scheduled task execution.
type Service struct {
	configManager *config.Manager
	links         *linkcache.Service
	acquisitions  *acquisition.Service

	// Runtime state
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Task state tracking (in-memory, not persisted)
	taskMu      sync.RWMutex
	taskRunning map[string]bool
	lastRun     map[string]time.Time
}

// NewService creates a new scheduler service.
func NewService(configManager *config.Manager, links *linkcache.Service, acquisitions *acquisition.Service) *Service {
	return &Service{
		configManager: configManager,
		links:         links,
		acquisitions:  acquisitions,
		taskRunning:   make(map[string]bool),
		lastRun:       make(map[string]time.Time),
	}
}

// Start begins the scheduler background loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.schedulerLoop()

	log.Println("[scheduler] service started")
	return nil
}

// Stop gracefully stops the scheduler, waiting for in-flight tasks until the
// context expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] service stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] service stopped (timeout)")
	}

	s.running = false
	return nil
}

// schedulerLoop checks every minute which tasks are due.
func (s *Service) schedulerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Run the first check immediately on start.
	s.checkAndRunTasks()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunTasks()
		}
	}
}

func (s *Service) intervals() map[string]time.Duration {
	intervals := map[string]time.Duration{
		TaskRefreshExpiring:   15 * time.Minute,
		TaskInvalidateExpired: time.Hour,
		TaskCleanupOld:        24 * time.Hour,
		TaskCheckPending:      5 * time.Minute,
	}

	settings, err := s.configManager.Load()
	if err != nil {
		log.Printf("[scheduler] load settings: %v", err)
		return intervals
	}
	if v := settings.Engine.RefreshIntervalMinutes; v > 0 {
		intervals[TaskRefreshExpiring] = time.Duration(v) * time.Minute
	}
	if v := settings.Engine.InvalidateIntervalMinutes; v > 0 {
		intervals[TaskInvalidateExpired] = time.Duration(v) * time.Minute
	}
	if v := settings.Engine.CleanupIntervalHours; v > 0 {
		intervals[TaskCleanupOld] = time.Duration(v) * time.Hour
	}
	if v := settings.Engine.PendingCheckMinutes; v > 0 {
		intervals[TaskCheckPending] = time.Duration(v) * time.Minute
	}
	return intervals
}

func (s *Service) checkAndRunTasks() {
	for name, interval := range s.intervals() {
		if s.shouldRun(name, interval) {
			s.launch(name)
		}
	}
}

func (s *Service) shouldRun(name string, interval time.Duration) bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()

	if s.taskRunning[name] {
		return false
	}
	last, ran := s.lastRun[name]
	if !ran {
		return true
	}
	return time.Since(last) >= interval
}

// launch runs the task in its own goroutine so tasks never block each other.
func (s *Service) launch(name string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeTask(name)
	}()
}

func (s *Service) executeTask(name string) {
	s.taskMu.Lock()
	if s.taskRunning[name] {
		s.taskMu.Unlock()
		return
	}
	s.taskRunning[name] = true
	s.lastRun[name] = time.Now()
	s.taskMu.Unlock()

	defer func() {
		s.taskMu.Lock()
		delete(s.taskRunning, name)
		s.taskMu.Unlock()
	}()

	log.Printf("[scheduler] executing task %s", name)

	var err error
	switch name {
	case TaskRefreshExpiring:
		var n int
		n, err = s.links.RefreshExpiring(s.ctx)
		if err == nil && n > 0 {
			log.Printf("[scheduler] %s: refreshed %d links", name, n)
		}
	case TaskInvalidateExpired:
		var n int
		n, err = s.links.InvalidateExpired()
		if err == nil && n > 0 {
			log.Printf("[scheduler] %s: invalidated %d links", name, n)
		}
	case TaskCleanupOld:
		var n int
		n, err = s.links.CleanupOld()
		if err == nil && n > 0 {
			log.Printf("[scheduler] %s: removed %d links", name, n)
		}
	case TaskCheckPending:
		var n int
		n, err = s.acquisitions.CheckPending(s.ctx)
		if err == nil && n > 0 {
			log.Printf("[scheduler] %s: finalized %d torrents", name, n)
		}
	default:
		log.Printf("[scheduler] unknown task %s", name)
		return
	}

	if err != nil {
		log.Printf("[scheduler] task %s failed: %v", name, err)
	}
}

// RunTaskNow triggers immediate execution of a named task.
func (s *Service) RunTaskNow(name string) error {
	switch name {
	case TaskRefreshExpiring, TaskInvalidateExpired, TaskCleanupOld, TaskCheckPending:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	s.taskMu.RLock()
	busy := s.taskRunning[name]
	s.taskMu.RUnlock()
	if busy {
		return ErrTaskRunning
	}

	s.mu.Lock()
	started := s.running
	s.mu.Unlock()
	if !started {
		return errors.New("scheduler not started")
	}

	s.launch(name)
	return nil
}

// IsTaskRunning checks if a specific task is currently executing.
func (s *Service) IsTaskRunning(name string) bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	return s.taskRunning[name]
}

// TaskNames returns the fixed task set.
func TaskNames() []string {
	return []string{TaskRefreshExpiring, TaskInvalidateExpired, TaskCleanupOld, TaskCheckPending}
}
