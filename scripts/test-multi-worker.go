package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AltairaLabs/agentvine/internal/rpc"
	"github.com/AltairaLabs/agentvine/internal/types"
	"github.com/AltairaLabs/agentvine/internal/worker"
)

const (
	orchestratorAddr = "localhost:50051"
	numWorkers       = 3
	numItems         = 12
	drainTimeout     = 2 * time.Minute
)

var tiers = []types.Priority{types.PriorityLow, types.PriorityDefault, types.PriorityHigh}

func main() {
	log.Println("🧪 Multi-Worker Queue Test")
	log.Println("==========================")

	conn, err := rpc.Dial(orchestratorAddr)
	if err != nil {
		log.Fatalf("Failed to connect to orchestrator: %v", err)
	}
	defer conn.Close()
	client := rpc.NewClient(conn)
	ctx := context.Background()

	log.Printf("\n📋 Phase 1: Enqueuing %d items across %d tiers...", numItems, len(tiers))
	enqueued := enqueueItems(ctx, client, numItems)
	log.Printf("✅ Enqueued %d items", len(enqueued))

	log.Printf("\n📋 Phase 2: Draining with %d workers...", numWorkers)
	agents := runWorkers(ctx, client, len(enqueued))

	log.Println("\n📋 Phase 3: Analyzing results...")
	analyzeResults(agents, len(enqueued))

	log.Println("\n🎉 Multi-Worker Test Complete!")
}

func enqueueItems(ctx context.Context, client *rpc.Client, count int) []*types.WorkItem {
	var items []*types.WorkItem
	for i := 0; i < count; i++ {
		tier := tiers[i%len(tiers)]
		payload, _ := json.Marshal(worker.QuestionPayload{
			Question:        fmt.Sprintf("which test runner for item %d?", i),
			Kind:            types.KindClarification,
			PermissionLevel: types.PermissionAutonomous,
		})
		resp, err := client.Enqueue(ctx, &rpc.EnqueueRequest{Item: &types.WorkItem{
			TaskID:   fmt.Sprintf("smoke-task-%d", i),
			Priority: tier,
			Payload:  payload,
		}})
		if err != nil {
			log.Printf("❌ Failed to enqueue item %d: %v", i, err)
			continue
		}
		items = append(items, resp.Item)
		log.Printf("  ✓ Item %d: %s (tier: %s)", i, resp.Item.ID, tier)
	}
	return items
}

func runWorkers(ctx context.Context, client *rpc.Client, expected int) map[string]*worker.Agent {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	agents := make(map[string]*worker.Agent, numWorkers)

	runCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		id := fmt.Sprintf("smoke-worker-%d", i)
		a, err := worker.NewAgent(client, worker.QuestionExecutor{}, worker.Config{
			WorkerID:          id,
			HeartbeatInterval: time.Second,
			Logger:            logger,
		})
		if err != nil {
			log.Fatalf("Failed to create worker %s: %v", id, err)
		}
		agents[id] = a

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Run(runCtx)
		}()
	}

	for runCtx.Err() == nil && completed(agents) < expected {
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	wg.Wait()
	return agents
}

func completed(agents map[string]*worker.Agent) int {
	total := 0
	for _, a := range agents {
		total += int(a.Stats().Completed)
	}
	return total
}

func analyzeResults(agents map[string]*worker.Agent, expected int) {
	done := completed(agents)

	log.Printf("\n📈 Results Summary:")
	log.Printf("  Total Items: %d", expected)
	log.Printf("  Completed: %d", done)
	if expected > 0 {
		log.Printf("  Success Rate: %.1f%%", float64(done)/float64(expected)*100)
	}

	log.Println("\n📊 Item Distribution Across Workers:")
	for id, a := range agents {
		s := a.Stats()
		log.Printf("  Worker %s: claimed=%d completed=%d failed=%d stale=%d asked=%d",
			id, s.Claimed, s.Completed, s.Failed, s.Stale, s.Asked)
	}
}
