package taskqueue

import (
	"context"
)

// This file contains the background goroutine wrapper. The sweep logic
// itself (ReapExpiredLeases) is tested separately.

// Start begins the lease reaper. Calling Start twice is a no-op.
func (tq *TaskQueue) Start(ctx context.Context) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	if tq.cancel != nil {
		return
	}

	ctx, tq.cancel = context.WithCancel(ctx)
	tq.wg.Add(1)
	go func() {
		defer tq.wg.Done()
		tq.reaper.Start(ctx)
	}()
}

// Stop gracefully shuts down the reaper and waits for it to exit
func (tq *TaskQueue) Stop() {
	tq.mu.Lock()
	cancel := tq.cancel
	tq.cancel = nil
	tq.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	tq.wg.Wait()
}
