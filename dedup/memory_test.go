package dedup

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreFirstCheckIsUnique(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	result, err := store.Check(context.Background(), "key-1", time.Minute)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result != Unique {
		t.Errorf("first Check() = %v, want Unique", result)
	}
}

func TestMemoryStoreSecondCheckIsDuplicate(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if _, err := store.Check(context.Background(), "key-1", time.Minute); err != nil {
		t.Fatalf("first Check() failed: %v", err)
	}
	result, err := store.Check(context.Background(), "key-1", time.Minute)
	if err != nil {
		t.Fatalf("second Check() failed: %v", err)
	}
	if result != Duplicate {
		t.Errorf("second Check() = %v, want Duplicate", result)
	}
}

func TestMemoryStoreDistinctKeysAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if _, err := store.Check(context.Background(), "key-1", time.Minute); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	result, err := store.Check(context.Background(), "key-2", time.Minute)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result != Unique {
		t.Errorf("Check() for a different key = %v, want Unique", result)
	}
}

func TestMemoryStoreExpiredKeyIsUniqueAgain(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }

	if _, err := store.Check(context.Background(), "key-1", time.Minute); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	now = now.Add(time.Minute + time.Second)
	result, err := store.Check(context.Background(), "key-1", time.Minute)
	if err != nil {
		t.Fatalf("Check() after expiry failed: %v", err)
	}
	if result != Unique {
		t.Errorf("Check() after expiry = %v, want Unique", result)
	}
}

func TestMemoryStoreConcurrentChecksHaveOneWinner(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	uniques := 0

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := store.Check(context.Background(), "contested", time.Minute)
			if err != nil {
				t.Errorf("Check() failed: %v", err)
				return
			}
			if result == Unique {
				mu.Lock()
				uniques++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if uniques != 1 {
		t.Errorf("%d goroutines observed Unique, want exactly 1", uniques)
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }

	if _, err := store.Check(context.Background(), "old", time.Minute); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if _, err := store.Check(context.Background(), "fresh", time.Hour); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	store.purgeExpired()

	store.mu.Lock()
	_, oldKept := store.entries["old"]
	_, freshKept := store.entries["fresh"]
	store.mu.Unlock()

	if oldKept {
		t.Error("purge kept an expired key")
	}
	if !freshKept {
		t.Error("purge removed a live key")
	}
}

func TestMemoryStoreClampsExcessiveTTL(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }

	if _, err := store.Check(context.Background(), "key-1", 72*time.Hour); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	now = now.Add(25 * time.Hour)
	result, err := store.Check(context.Background(), "key-1", time.Minute)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result != Unique {
		t.Errorf("Check() 25h after a 72h claim = %v, want Unique (TTL must clamp to %v)", result, MaxTTL)
	}
}

func TestMemoryStoreClampsTinyTTL(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	now := time.Now()
	store.now = func() time.Time { return now }

	if _, err := store.Check(context.Background(), "key-1", time.Second); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	now = now.Add(30 * time.Second)
	result, err := store.Check(context.Background(), "key-1", time.Minute)
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result != Duplicate {
		t.Errorf("Check() 30s after a 1s claim = %v, want Duplicate (TTL must clamp to %v)", result, MinTTL)
	}
}

func TestKeyComposition(t *testing.T) {
	a := Key("ws-1", "TIME_ENTRY_CREATED", "te-1")
	b := Key("ws-2", "TIME_ENTRY_CREATED", "te-1")
	c := Key("ws-1", "TIME_ENTRY_UPDATED", "te-1")

	if a == b || a == c || b == c {
		t.Errorf("Key() collided: %q, %q, %q", a, b, c)
	}
}
