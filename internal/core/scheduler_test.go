package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRoutesKeyToOneWorker(t *testing.T) {
	t.Parallel()
	s := NewScheduler(8, 256, nil)
	defer s.Close()

	var mu sync.Mutex
	order := map[string][]int{}
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("d%d.com", i%5)
		wg.Add(1)
		err := s.SubmitWork(context.Background(), key, i, "", func(item *WorkItem) error {
			defer wg.Done()
			mu.Lock()
			order[item.Key] = append(order[item.Key], item.Index)
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("SubmitWork(%d): %v", i, err)
		}
	}
	wg.Wait()

	for key, idx := range order {
		for j := 1; j < len(idx); j++ {
			if idx[j] < idx[j-1] {
				t.Fatalf("items for %s ran out of order: %v", key, idx)
			}
		}
	}
}

func TestSchedulerQueueFullIsRetryable(t *testing.T) {
	t.Parallel()
	s := NewScheduler(1, 1, nil)
	defer s.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	block := func(item *WorkItem) error {
		if item.Index == 0 {
			close(started)
		}
		<-release
		return nil
	}

	if err := s.SubmitWork(context.Background(), "k", 0, "", block); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	<-started
	if err := s.SubmitWork(context.Background(), "k", 1, "", block); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	err := s.SubmitWork(context.Background(), "k", 2, "", block)
	if !errors.Is(err, ErrQueueFull) || !IsRetryable(err) {
		t.Fatalf("expected retryable ErrQueueFull, got %v", err)
	}
	close(release)
	s.Close()
}

func TestSchedulerRecoversPanics(t *testing.T) {
	t.Parallel()
	s := NewScheduler(2, 4, nil)

	var ran atomic.Int32
	if err := s.SubmitWork(context.Background(), "boom", 0, "", func(*WorkItem) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.SubmitWork(context.Background(), "boom", 1, "", func(*WorkItem) error {
		ran.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after a panicking item")
	}
	if ran.Load() != 1 {
		t.Fatalf("worker stopped after panic")
	}
}

func TestSchedulerRejectsAfterClose(t *testing.T) {
	t.Parallel()
	s := NewScheduler(2, 4, nil)
	s.Close()
	s.Close()

	err := s.SubmitWork(context.Background(), "k", 0, "", func(*WorkItem) error { return nil })
	if !errors.Is(err, ErrWorkerShutdown) || IsRetryable(err) {
		t.Fatalf("expected non-retryable ErrWorkerShutdown, got %v", err)
	}
}

func TestNewSchedulerClampsWorkers(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct{ in, want int }{{0, 1}, {-3, 1}, {4, 4}, {MaxWorkers + 10, MaxWorkers}} {
		s := NewScheduler(tt.in, 1, nil)
		if got := s.NumWorkers(); got != tt.want {
			t.Errorf("NewScheduler(%d).NumWorkers() = %d, want %d", tt.in, got, tt.want)
		}
		s.Close()
	}
}
