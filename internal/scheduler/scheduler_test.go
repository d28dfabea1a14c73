package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls int32
}

func (c *countingSweeper) Sweep(ctx context.Context) {
	atomic.AddInt32(&c.calls, 1)
}

func TestSchedulerRunsSweepOnInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := New(sweeper, Config{SweepInterval: "@every 20ms"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&sweeper.calls) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 sweeps, got %d", atomic.LoadInt32(&sweeper.calls))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSchedulerRunSweepNowTriggersImmediately(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := New(sweeper, Config{SweepInterval: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.RunSweepNow()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&sweeper.calls) < 1 {
		select {
		case <-deadline:
			t.Fatal("expected RunSweepNow to trigger a sweep")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	_, err := New(sweeper, Config{SweepInterval: "not a cron expression"}, nil)
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := New(sweeper, Config{SweepInterval: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start(context.Background())
	s.Stop()
	s.Stop() // must not panic or block
}

func TestSchedulerSweepPanicIsRecovered(t *testing.T) {
	s, err := New(panickingSweeper{}, Config{SweepInterval: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.runSweep() // must not propagate the panic
}

type panickingSweeper struct{}

func (panickingSweeper) Sweep(ctx context.Context) {
	panic("boom")
}
