package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"tipRelay/internal/model"
	"tipRelay/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startScheduler(t *testing.T, cfg SchedulerConfig, settle SettleFunc, sink storage.DeadLetterSink) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg, New(), settle, sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestSizeTriggerFiresImmediately(t *testing.T) {
	windows := make(chan []model.TipCandidate, 1)
	settle := func(_ context.Context, window []model.TipCandidate) error {
		windows <- window
		return nil
	}

	s := startScheduler(t, SchedulerConfig{
		Interval:          time.Hour,
		MaxBatchSize:      3,
		MaxWindowAttempts: 3,
	}, settle, nil)

	for i := 0; i < 3; i++ {
		s.Submit(model.TipCandidate{SourceEventID: "e"})
	}

	select {
	case window := <-windows:
		if len(window) != 3 {
			t.Fatalf("expected full window of 3, got %d", len(window))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("size trigger did not fire")
	}
}

func TestFailureRequeuesThenDeadLetters(t *testing.T) {
	mem := storage.NewMemory()
	var attempts atomic.Int32
	settle := func(context.Context, []model.TipCandidate) error {
		attempts.Add(1)
		return errors.New("settlement reverted")
	}

	s := startScheduler(t, SchedulerConfig{
		Interval:          10 * time.Millisecond,
		MaxBatchSize:      5,
		MaxWindowAttempts: 2,
	}, settle, mem)

	s.Submit(model.TipCandidate{SourceEventID: "doomed"})

	deadline := time.After(2 * time.Second)
	for {
		if letters := mem.DeadLetters(); len(letters) == 1 {
			if got := attempts.Load(); got != 2 {
				t.Fatalf("expected 2 attempts before drop, got %d", got)
			}
			if len(letters[0].Candidates) != 1 {
				t.Fatalf("dead letter window mismatch: %+v", letters[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("window never dead-lettered, attempts=%d", attempts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRetryPreservesFailedWindow(t *testing.T) {
	windows := make(chan []model.TipCandidate, 8)
	var fail atomic.Bool
	fail.Store(true)
	settle := func(_ context.Context, window []model.TipCandidate) error {
		windows <- window
		if fail.Load() {
			return errors.New("endpoint down")
		}
		return nil
	}

	s := startScheduler(t, SchedulerConfig{
		Interval:          10 * time.Millisecond,
		MaxBatchSize:      5,
		MaxWindowAttempts: 5,
	}, settle, nil)

	nextWindow := func() []model.TipCandidate {
		select {
		case window := <-windows:
			return window
		case <-time.After(2 * time.Second):
			t.Fatalf("no settlement attempt")
			return nil
		}
	}

	s.Submit(model.TipCandidate{SourceEventID: "stuck"})
	first := nextWindow()
	if len(first) != 1 || first[0].SourceEventID != "stuck" {
		t.Fatalf("first window mismatch: %+v", first)
	}

	// Candidates arriving while the retry is pending must not merge into it.
	s.Submit(model.TipCandidate{SourceEventID: "fresh-0"})
	s.Submit(model.TipCandidate{SourceEventID: "fresh-1"})
	second := nextWindow()
	if len(second) != 1 || second[0].SourceEventID != "stuck" {
		t.Fatalf("retry must carry the failed window unchanged, got %+v", second)
	}

	fail.Store(false)
	// Further retries of the held window may already be in flight; the queued
	// candidates must eventually settle as their own window.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case window := <-windows:
			if window[0].SourceEventID == "stuck" {
				if len(window) != 1 {
					t.Fatalf("held window grew: %+v", window)
				}
				continue
			}
			if len(window) != 2 || window[0].SourceEventID != "fresh-0" || window[1].SourceEventID != "fresh-1" {
				t.Fatalf("queued candidates window mismatch: %+v", window)
			}
			return
		case <-deadline:
			t.Fatalf("queued candidates never settled")
		}
	}
}

func TestDeadLetterDropsOnlyFailedWindow(t *testing.T) {
	mem := storage.NewMemory()
	var attempts atomic.Int32
	settle := func(context.Context, []model.TipCandidate) error {
		attempts.Add(1)
		return errors.New("settlement reverted")
	}

	s := startScheduler(t, SchedulerConfig{
		Interval:          10 * time.Millisecond,
		MaxBatchSize:      5,
		MaxWindowAttempts: 2,
	}, settle, mem)

	s.Submit(model.TipCandidate{SourceEventID: "doomed"})
	deadline := time.After(2 * time.Second)
	for attempts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("no settlement attempt")
		case <-time.After(time.Millisecond):
		}
	}
	s.Submit(model.TipCandidate{SourceEventID: "fresh"})

	for len(mem.DeadLetters()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("window never dead-lettered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	dropped := mem.DeadLetters()[0]
	if len(dropped.Candidates) != 1 || dropped.Candidates[0].SourceEventID != "doomed" {
		t.Fatalf("dead letter must hold only the failed window, got %+v", dropped.Candidates)
	}
}

func TestOnlyOneSettlementInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	var inFlight, maxInFlight atomic.Int32

	settle := func(_ context.Context, _ []model.TipCandidate) error {
		n := inFlight.Add(1)
		if prev := maxInFlight.Load(); n > prev {
			maxInFlight.Store(n)
		}
		started <- struct{}{}
		<-release
		inFlight.Add(-1)
		return nil
	}

	s := startScheduler(t, SchedulerConfig{
		Interval:          5 * time.Millisecond,
		MaxBatchSize:      1,
		MaxWindowAttempts: 3,
	}, settle, nil)

	s.Submit(model.TipCandidate{SourceEventID: "first"})
	<-started

	// More triggers arrive while the settlement is in flight.
	for i := 0; i < 3; i++ {
		s.Submit(model.TipCandidate{SourceEventID: "later"})
	}
	time.Sleep(30 * time.Millisecond)
	close(release)

	// Drain any follow-up settlements so the goroutine can finish cleanly.
	deadline := time.After(2 * time.Second)
	for drained := 0; drained < 4; drained++ {
		select {
		case <-started:
		case <-deadline:
			drained = 4
		}
	}

	if got := maxInFlight.Load(); got > 1 {
		t.Fatalf("expected at most one settlement in flight, saw %d", got)
	}
}
