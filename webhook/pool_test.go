package webhook

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPoolSubmitSchedules(t *testing.T) {
	f := newFixture(t, true)
	saveRule(t, f.store, matchingRule("rule-1"))

	pool := NewPool(f.handler, 8, 2)
	defer pool.Close()

	result, err := pool.Submit(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if result.Status != StatusScheduled {
		t.Fatalf("status = %q, want %q", result.Status, StatusScheduled)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.backend.updateCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("queued delivery was never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPoolSuppressesDuplicateBeforeQueueing(t *testing.T) {
	f := newFixture(t, true)
	saveRule(t, f.store, matchingRule("rule-1"))

	pool := NewPool(f.handler, 8, 2)
	defer pool.Close()

	if _, err := pool.Submit(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("first Submit() failed: %v", err)
	}
	result, err := pool.Submit(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("second Submit() failed: %v", err)
	}
	if result.Status != StatusDuplicate {
		t.Errorf("second Submit() status = %q, want %q", result.Status, StatusDuplicate)
	}
}

func TestPoolSubmitDuringCloseDoesNotPanic(t *testing.T) {
	f := newFixture(t, true)

	pool := NewPool(f.handler, 4, 2)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				event := sampleEvent()
				event.PayloadID = fmt.Sprintf("te-%d-%d", worker, j)
				if _, err := pool.Submit(context.Background(), event); err != nil {
					t.Errorf("Submit() failed: %v", err)
					return
				}
			}
		}(i)
	}

	close(start)
	time.Sleep(time.Millisecond)
	pool.Close()
	wg.Wait()
}

func TestPoolCloseDrainsQueue(t *testing.T) {
	f := newFixture(t, true)
	saveRule(t, f.store, matchingRule("rule-1"))

	pool := NewPool(f.handler, 8, 1)
	if _, err := pool.Submit(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	pool.Close()

	if f.backend.updateCalls.Load() != 1 {
		t.Errorf("Close() returned before queued work finished (%d updates)", f.backend.updateCalls.Load())
	}
}
