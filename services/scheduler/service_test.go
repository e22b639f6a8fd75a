package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bridgarr/config"
	"bridgarr/internal/database"
	"bridgarr/services/acquisition"
	"bridgarr/services/linkcache"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()

	cfgManager := config.NewManager(filepath.Join(dir, "settings.json"))
	if _, err := cfgManager.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}

	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	loadSettings := func() (config.Settings, error) { return cfgManager.Load() }
	links := linkcache.NewService(db, loadSettings, nil, linkcache.DefaultOptions())
	acquisitions := acquisition.NewService(db, loadSettings, nil, acquisition.DefaultOptions())
	return NewService(cfgManager, links, acquisitions)
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestService(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestRunTaskNowUnknownTask(t *testing.T) {
	s := newTestService(t)

	err := s.RunTaskNow("no-such-task")
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("error = %v, want ErrUnknownTask", err)
	}
}

func TestRunTaskNowRequiresStart(t *testing.T) {
	s := newTestService(t)

	if err := s.RunTaskNow(TaskInvalidateExpired); err == nil {
		t.Fatal("expected error when scheduler not started")
	}
}

func TestRunTaskNowExecutes(t *testing.T) {
	s := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	if err := s.RunTaskNow(TaskInvalidateExpired); err != nil {
		t.Fatalf("RunTaskNow: %v", err)
	}

	// The empty database makes the task a no-op; wait for it to finish.
	deadline := time.Now().Add(2 * time.Second)
	for s.IsTaskRunning(TaskInvalidateExpired) {
		if time.Now().After(deadline) {
			t.Fatal("task did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTaskNames(t *testing.T) {
	names := TaskNames()
	if len(names) != 4 {
		t.Fatalf("task count = %d, want 4", len(names))
	}
}
