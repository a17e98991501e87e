// Package storagetest holds behavioural tests every storage backend must pass.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Factory returns an empty work queue backend
type Factory func(t *testing.T) storage.WorkQueueStorage

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func item(id string, tier types.Priority, maxRetries int) *types.WorkItem {
	return &types.WorkItem{
		ID:         id,
		Priority:   tier,
		Payload:    json.RawMessage(`{"id":"` + id + `"}`),
		MaxRetries: maxRetries,
		EnqueuedAt: epoch,
	}
}

func claim(t *testing.T, s storage.WorkQueueStorage, tier types.Priority, worker string, now time.Time) *types.WorkItem {
	t.Helper()
	got, err := s.ClaimNext(context.Background(), storage.ClaimRequest{
		Tier:     tier,
		WorkerID: worker,
		Now:      now,
		Deadline: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	return got
}

// RunWorkQueueSuite exercises the WorkQueueStorage contract
func RunWorkQueueSuite(t *testing.T, newStorage Factory) {
	t.Run("FIFOWithinTier", func(t *testing.T) { testFIFO(t, newStorage(t)) })
	t.Run("EmptyTierReturnsNil", func(t *testing.T) { testEmpty(t, newStorage(t)) })
	t.Run("DuplicateEnqueue", func(t *testing.T) { testDuplicate(t, newStorage(t)) })
	t.Run("CompleteRequiresLease", func(t *testing.T) { testComplete(t, newStorage(t)) })
	t.Run("ReleaseRequeuesThenDeadLetters", func(t *testing.T) { testRelease(t, newStorage(t)) })
	t.Run("ReleaseKeepsPlaceInTier", func(t *testing.T) { testReleaseOrder(t, newStorage(t)) })
	t.Run("AvailableAtDelaysClaim", func(t *testing.T) { testAvailableAt(t, newStorage(t)) })
	t.Run("ExpireLeases", func(t *testing.T) { testExpire(t, newStorage(t)) })
	t.Run("CapabilityFiltering", func(t *testing.T) { testCapabilities(t, newStorage(t)) })
	t.Run("ConcurrentClaimsAreExclusive", func(t *testing.T) { testConcurrentClaims(t, newStorage(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStorage(t)) })
}

func testFIFO(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Enqueue(ctx, item(id, types.PriorityDefault, 3)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got := claim(t, s, types.PriorityDefault, "w1", epoch)
		if got == nil || got.ID != want {
			t.Fatalf("Expected %s, got %+v", want, got)
		}
		if got.Status != types.WorkLeased || got.LeaseOwner != "w1" || got.LeaseDeadline == nil {
			t.Errorf("Expected leased by w1 with deadline, got %+v", got)
		}
	}
}

func testEmpty(t *testing.T, s storage.WorkQueueStorage) {
	if got := claim(t, s, types.PriorityHigh, "w1", epoch); got != nil {
		t.Errorf("Expected nil from empty tier, got %+v", got)
	}
	got, err := s.Get(context.Background(), "missing")
	if err != nil || got != nil {
		t.Errorf("Expected nil, nil for unknown item, got %+v, %v", got, err)
	}
}

func testDuplicate(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	if err := s.Enqueue(ctx, item("a", types.PriorityLow, 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	err := s.Enqueue(ctx, item("a", types.PriorityLow, 1))
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
}

func testComplete(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	if err := s.Enqueue(ctx, item("a", types.PriorityHigh, 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := s.Complete(ctx, "a", "w1", nil, epoch); !errors.Is(err, storage.ErrNotLeased) {
		t.Errorf("Expected ErrNotLeased before claim, got %v", err)
	}

	claim(t, s, types.PriorityHigh, "w1", epoch)

	if _, err := s.Complete(ctx, "a", "w2", nil, epoch); !errors.Is(err, storage.ErrNotLeased) {
		t.Errorf("Expected ErrNotLeased for other owner, got %v", err)
	}

	done, err := s.Complete(ctx, "a", "w1", json.RawMessage(`"ok"`), epoch)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done.Status != types.WorkCompleted || string(done.Result) != `"ok"` || done.CompletedAt == nil {
		t.Errorf("Expected completed with result, got %+v", done)
	}

	if _, err := s.Complete(ctx, "a", "w1", nil, epoch); !errors.Is(err, storage.ErrNotLeased) {
		t.Errorf("Expected ErrNotLeased on second complete, got %v", err)
	}
	if _, err := s.Complete(ctx, "zzz", "w1", nil, epoch); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown item, got %v", err)
	}
}

func testRelease(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	if err := s.Enqueue(ctx, item("a", types.PriorityDefault, 2)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		got := claim(t, s, types.PriorityDefault, "w1", epoch)
		if got == nil {
			t.Fatalf("Attempt %d: expected item to be claimable", attempt)
		}
		released, err := s.Release(ctx, "a", "w1", fmt.Sprintf("boom %d", attempt), epoch)
		if err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if released.RetryCount != attempt {
			t.Errorf("Expected retry count %d, got %d", attempt, released.RetryCount)
		}
		wantStatus := types.WorkQueued
		if attempt == 3 {
			wantStatus = types.WorkDeadLettered
		}
		if released.Status != wantStatus {
			t.Errorf("Attempt %d: expected %s, got %s", attempt, wantStatus, released.Status)
		}
	}

	if got := claim(t, s, types.PriorityDefault, "w1", epoch); got != nil {
		t.Errorf("Expected dead-lettered item to never be claimed, got %+v", got)
	}

	dead, err := s.ListByStatus(ctx, types.WorkDeadLettered)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != "a" || dead[0].LastError != "boom 3" {
		t.Errorf("Expected a single dead-lettered item with last error, got %+v", dead)
	}

	if _, err := s.Release(ctx, "a", "w1", "again", epoch); !errors.Is(err, storage.ErrNotLeased) {
		t.Errorf("Expected ErrNotLeased releasing a dead item, got %v", err)
	}
}

func testReleaseOrder(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.Enqueue(ctx, item(id, types.PriorityLow, 3)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	claim(t, s, types.PriorityLow, "w1", epoch)
	if _, err := s.Release(ctx, "a", "w1", "retry", epoch); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	got := claim(t, s, types.PriorityLow, "w2", epoch)
	if got == nil || got.ID != "a" {
		t.Errorf("Expected requeued a ahead of b, got %+v", got)
	}
}

func testAvailableAt(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	if err := s.Enqueue(ctx, item("a", types.PriorityHigh, 3)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claim(t, s, types.PriorityHigh, "w1", epoch)
	if _, err := s.Release(ctx, "a", "w1", "backoff", epoch.Add(time.Minute)); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if got := claim(t, s, types.PriorityHigh, "w1", epoch.Add(30*time.Second)); got != nil {
		t.Errorf("Expected item hidden during backoff, got %+v", got)
	}
	if got := claim(t, s, types.PriorityHigh, "w1", epoch.Add(time.Minute)); got == nil {
		t.Error("Expected item claimable after backoff")
	}
}

func testExpire(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	if err := s.Enqueue(ctx, item("a", types.PriorityDefault, 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(ctx, item("b", types.PriorityDefault, 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	claim(t, s, types.PriorityDefault, "w1", epoch) // a, deadline epoch+1m

	expired, err := s.ExpireLeases(ctx, epoch.Add(30*time.Second), 10)
	if err != nil {
		t.Fatalf("ExpireLeases failed: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Expected nothing expired before deadline, got %d", len(expired))
	}

	expired, err = s.ExpireLeases(ctx, epoch.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("ExpireLeases failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "a" || expired[0].RetryCount != 1 || expired[0].Status != types.WorkQueued {
		t.Fatalf("Expected a requeued with retry 1, got %+v", expired)
	}

	// requeued once more, then dead-lettered on the next expiry
	got := claim(t, s, types.PriorityDefault, "w2", epoch.Add(2*time.Minute))
	if got == nil || got.ID != "a" {
		t.Fatalf("Expected a claimable again, got %+v", got)
	}
	if _, err := s.Complete(ctx, "a", "w1", nil, epoch); !errors.Is(err, storage.ErrNotLeased) {
		t.Errorf("Expected stale owner rejected after requeue, got %v", err)
	}

	expired, err = s.ExpireLeases(ctx, epoch.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ExpireLeases failed: %v", err)
	}
	if len(expired) != 1 || expired[0].Status != types.WorkDeadLettered {
		t.Errorf("Expected a dead-lettered, got %+v", expired)
	}
}

func testCapabilities(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	gpu := item("gpu", types.PriorityDefault, 1)
	gpu.Capabilities = []string{"gpu"}
	if err := s.Enqueue(ctx, gpu); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(ctx, item("plain", types.PriorityDefault, 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, err := s.ClaimNext(ctx, storage.ClaimRequest{Tier: types.PriorityDefault, WorkerID: "cpu", Now: epoch, Deadline: epoch.Add(time.Minute)})
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if got == nil || got.ID != "plain" {
		t.Fatalf("Expected plain for cpu worker, got %+v", got)
	}

	got, err = s.ClaimNext(ctx, storage.ClaimRequest{
		Tier: types.PriorityDefault, WorkerID: "gpu-worker", Capabilities: []string{"gpu"},
		Now: epoch, Deadline: epoch.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if got == nil || got.ID != "gpu" {
		t.Errorf("Expected gpu item for gpu worker, got %+v", got)
	}
}

func testConcurrentClaims(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	const items, claimers = 20, 50
	for i := 0; i < items; i++ {
		if err := s.Enqueue(ctx, item(fmt.Sprintf("item-%02d", i), types.PriorityDefault, 1)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			got, err := s.ClaimNext(ctx, storage.ClaimRequest{
				Tier: types.PriorityDefault, WorkerID: worker, Now: epoch, Deadline: epoch.Add(time.Minute),
			})
			if err != nil {
				t.Errorf("ClaimNext failed: %v", err)
				return
			}
			if got == nil {
				return
			}
			mu.Lock()
			seen[got.ID]++
			mu.Unlock()
		}(fmt.Sprintf("w%d", i))
	}
	wg.Wait()

	if len(seen) != items {
		t.Errorf("Expected %d distinct items claimed, got %d", items, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("Item %s claimed %d times", id, n)
		}
	}
}

func testStats(t *testing.T, s storage.WorkQueueStorage) {
	ctx := context.Background()
	for _, it := range []*types.WorkItem{
		item("h1", types.PriorityHigh, 0),
		item("d1", types.PriorityDefault, 0),
		item("d2", types.PriorityDefault, 0),
		item("l1", types.PriorityLow, 0),
	} {
		if err := s.Enqueue(ctx, it); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	claim(t, s, types.PriorityHigh, "w1", epoch)
	claim(t, s, types.PriorityLow, "w1", epoch)
	if _, err := s.Complete(ctx, "h1", "w1", nil, epoch); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := s.Release(ctx, "l1", "w1", "fatal", epoch); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	claim(t, s, types.PriorityDefault, "w1", epoch)

	stats, err := s.Stats(ctx, epoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.PendingByTier[types.PriorityDefault] != 1 || stats.PendingByTier[types.PriorityHigh] != 0 {
		t.Errorf("Unexpected pending counts: %v", stats.PendingByTier)
	}
	if stats.Leased != 1 || stats.Completed != 1 || stats.DeadLettered != 1 {
		t.Errorf("Expected 1 leased, 1 completed, 1 dead, got %+v", stats)
	}
	if stats.OldestPending != time.Hour {
		t.Errorf("Expected oldest pending 1h, got %v", stats.OldestPending)
	}
}
