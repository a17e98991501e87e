package memory

import (
	"context"
	"testing"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage/storagetest"
	"github.com/AltairaLabs/agentvine/internal/types"
)

func TestInMemoryWorkQueueStorage(t *testing.T) {
	storagetest.RunWorkQueueSuite(t, func(t *testing.T) storage.WorkQueueStorage {
		return NewInMemoryWorkQueueStorage(0)
	})
}

func TestEnqueueValidation(t *testing.T) {
	s := NewInMemoryWorkQueueStorage(0)
	ctx := context.Background()

	if err := s.Enqueue(ctx, nil); err == nil || err.Error() != "work item cannot be nil" {
		t.Errorf("Expected nil item error, got %v", err)
	}
	if err := s.Enqueue(ctx, &types.WorkItem{}); err == nil || err.Error() != "work item ID cannot be empty" {
		t.Errorf("Expected empty id error, got %v", err)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	s := NewInMemoryWorkQueueStorage(1)
	ctx := context.Background()

	if err := s.Enqueue(ctx, &types.WorkItem{ID: "a", Priority: types.PriorityLow}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(ctx, &types.WorkItem{ID: "b", Priority: types.PriorityLow}); err == nil {
		t.Error("Expected queue full error")
	}
}

func TestEnqueueStoresCopy(t *testing.T) {
	s := NewInMemoryWorkQueueStorage(0)
	ctx := context.Background()

	it := &types.WorkItem{ID: "a", Priority: types.PriorityHigh, Payload: []byte(`{}`)}
	if err := s.Enqueue(ctx, it); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if it.Sequence != 1 || it.Status != types.WorkQueued {
		t.Errorf("Expected caller's item to receive sequence and status, got %+v", it)
	}

	it.Payload[0] = 'x'
	got, _ := s.Get(ctx, "a")
	if string(got.Payload) != `{}` {
		t.Errorf("Expected stored payload unchanged, got %s", got.Payload)
	}

	got.Status = types.WorkCompleted
	again, _ := s.Get(ctx, "a")
	if again.Status != types.WorkQueued {
		t.Errorf("Expected stored status unchanged, got %s", again.Status)
	}
}
