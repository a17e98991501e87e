package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/AltairaLabs/agentvine/internal/rpc"
)

const maxConsecutiveHeartbeatFailures = 3

// heartbeatLoop sends periodic heartbeats until ctx is cancelled
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SendHeartbeat(ctx); err != nil {
				consecutiveFailures++
				a.logger.Warn("Heartbeat failed", "error", err, "consecutive_failures", consecutiveFailures)
				if consecutiveFailures >= maxConsecutiveHeartbeatFailures {
					a.logger.Error("Orchestrator unreachable", "consecutive_failures", consecutiveFailures)
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

// SendHeartbeat reports liveness and the current session. A session the
// registry has terminated is dropped so the next claim gets a fresh one.
func (a *Agent) SendHeartbeat(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	req := &rpc.HeartbeatRequest{WorkerID: a.cfg.WorkerID, Metrics: a.heartbeatMetrics()}
	if sess := a.Session(); sess != nil {
		req.SessionID = sess.ID
	}

	resp, err := a.client.Heartbeat(callCtx, req)
	if err != nil {
		return fmt.Errorf("heartbeat RPC failed: %w", err)
	}
	if resp.Terminated && req.SessionID != "" {
		a.logger.Info("Session terminated by registry", "session_id", req.SessionID)
		a.dropSession(req.SessionID)
	}
	return nil
}

func (a *Agent) heartbeatMetrics() map[string]float64 {
	s := a.Stats()
	return map[string]float64{
		"claimed":   float64(s.Claimed),
		"completed": float64(s.Completed),
		"failed":    float64(s.Failed),
		"stale":     float64(s.Stale),
		"asked":     float64(s.Asked),
	}
}
