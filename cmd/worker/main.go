// Command worker is an example agentvine worker. It claims work items from
// the orchestrator, asks the question carried in each payload and records
// the answer as the item's result.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/AltairaLabs/agentvine/internal/rpc"
	"github.com/AltairaLabs/agentvine/internal/worker"
)

const (
	defaultWorkerID          = "worker-1"
	defaultOrchestratorAddr  = "localhost:50051"
	defaultHeartbeatInterval = 30
)

var (
	version = flag.Bool("version", false, "Print version and exit")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("agentvine worker v0.1.0")
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := configFromEnv()
	cfg.Logger = logger
	addr := getEnv("ORCHESTRATOR_ADDR", defaultOrchestratorAddr)

	logger.Info("Starting agentvine worker",
		"worker_id", cfg.WorkerID,
		"orchestrator", addr,
		"capabilities", cfg.Capabilities,
		"heartbeat_interval", cfg.HeartbeatInterval)

	conn, err := rpc.Dial(addr)
	if err != nil {
		logger.Error("Failed to connect to orchestrator", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	agent, err := worker.NewAgent(rpc.NewClient(conn), worker.QuestionExecutor{}, cfg)
	if err != nil {
		logger.Error("Failed to create agent", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
}

// configFromEnv reads the agent settings from the environment
func configFromEnv() worker.Config {
	return worker.Config{
		WorkerID:          getEnv("WORKER_ID", defaultWorkerID),
		Capabilities:      splitList(getEnv("WORKER_CAPABILITIES", "")),
		ReuseSessions:     getEnv("REUSE_SESSIONS", "") == "true",
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SEC", defaultHeartbeatInterval)) * time.Second,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}
