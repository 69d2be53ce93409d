package scheduler

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestScheduler_TicksRunPeriodically(t *testing.T) {
	var count int32
	s := New(20*time.Millisecond, func(ctx context.Context, source string) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, silentLogger())

	s.Start(context.Background())
	time.Sleep(90 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt32(&count) < 2 {
		t.Errorf("expected at least 2 ticks in 90ms at a 20ms interval, got %d", count)
	}
}

func TestScheduler_CoalescesOverlappingTicks(t *testing.T) {
	var concurrent int32
	var maxConcurrent int32
	block := make(chan struct{})

	s := New(5*time.Millisecond, func(ctx context.Context, source string) error {
		n := atomic.AddInt32(&concurrent, 1)
		if n > atomic.LoadInt32(&maxConcurrent) {
			atomic.StoreInt32(&maxConcurrent, n)
		}
		<-block
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, silentLogger())

	s.Start(context.Background())
	time.Sleep(40 * time.Millisecond) // several ticks fire while the first cycle blocks
	close(block)
	s.Stop()

	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Errorf("expected overlapping ticks to be coalesced (max concurrency 1), got %d", maxConcurrent)
	}
}

func TestScheduler_TriggerNowSkippedWhileRunning(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)

	s := New(time.Hour, func(ctx context.Context, source string) error {
		started <- struct{}{}
		<-block
		return nil
	}, silentLogger())

	go s.TriggerNow(context.Background())
	<-started

	if s.TriggerNow(context.Background()) {
		t.Error("expected second TriggerNow to be skipped while the first is still running")
	}
	close(block)
}

func TestScheduler_StartTwiceWithoutStopPanics(t *testing.T) {
	s := New(time.Hour, func(ctx context.Context, source string) error { return nil }, silentLogger())
	s.Start(context.Background())
	defer s.Stop()

	defer func() {
		if recover() == nil {
			t.Error("expected Start called twice to panic")
		}
	}()
	s.Start(context.Background())
}
