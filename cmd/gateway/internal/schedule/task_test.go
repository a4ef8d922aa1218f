package schedule_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/schedule"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestEvery_FiresPeriodically(t *testing.T) {
	var runs atomic.Int64
	task := schedule.Every(context.Background(), 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	defer task.Stop()

	waitFor(t, time.Second, func() bool { return runs.Load() >= 3 })
}

func TestEvery_KickRunsOutOfCycle(t *testing.T) {
	var runs atomic.Int64
	task := schedule.Every(context.Background(), time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	defer task.Stop()

	task.Kick()
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
}

func TestEvery_StopHaltsRuns(t *testing.T) {
	var runs atomic.Int64
	task := schedule.Every(context.Background(), 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	waitFor(t, time.Second, func() bool { return runs.Load() >= 1 })
	task.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Errorf("Task ran after Stop: %d -> %d", after, runs.Load())
	}

	// Stop is idempotent
	task.Stop()
}

func TestEvery_ErrorsDoNotStopLoop(t *testing.T) {
	var runs, reported atomic.Int64
	task := schedule.Every(context.Background(), 5*time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("transient")
	}, schedule.WithErrorHandler(func(error) { reported.Add(1) }))
	defer task.Stop()

	waitFor(t, time.Second, func() bool { return runs.Load() >= 3 })
	if reported.Load() < 2 {
		t.Errorf("Expected errors to be reported, got %d", reported.Load())
	}
	if task.Err() != nil {
		t.Errorf("Every should not record a terminal error, got %v", task.Err())
	}
}

func TestRepeat_RunsImmediatelyAndReschedules(t *testing.T) {
	var runs, delays atomic.Int64
	task := schedule.Repeat(context.Background(), func() time.Duration {
		delays.Add(1)
		return 5 * time.Millisecond
	}, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	defer task.Stop()

	waitFor(t, time.Second, func() bool { return runs.Load() >= 3 })
	if delays.Load() < 2 {
		t.Errorf("Expected a delay to be drawn between runs, got %d", delays.Load())
	}
}

func TestRepeat_PanicEndsLoop(t *testing.T) {
	var handled error
	task := schedule.Repeat(context.Background(), func() time.Duration { return time.Millisecond }, func(context.Context) error {
		panic("updater exploded")
	}, schedule.WithErrorHandler(func(err error) { handled = err }))

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("Repeat did not stop after panic")
	}

	if !errors.Is(task.Err(), schedule.ErrPanic) {
		t.Errorf("Expected ErrPanic, got %v", task.Err())
	}
	if !errors.Is(handled, schedule.ErrPanic) {
		t.Errorf("Error handler did not receive the panic, got %v", handled)
	}
}

func TestRepeat_CancelIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := schedule.Repeat(ctx, func() time.Duration { return time.Hour }, func(context.Context) error { return nil })

	cancel()
	<-task.Done()
	if task.Err() != nil {
		t.Errorf("Expected nil error after cancel, got %v", task.Err())
	}
}
