package worker

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/agentvine/internal/rpc"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// acquireSession asks the registry for a session for taskID. The registry
// decides whether the current one is reused.
func (a *Agent) acquireSession(ctx context.Context, taskID string) (*types.Session, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	resp, err := a.client.CreateSession(callCtx, &rpc.CreateSessionRequest{
		WorkerID:            a.cfg.WorkerID,
		TaskID:              taskID,
		ReuseForSimilarTask: a.cfg.ReuseSessions,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	a.mu.Lock()
	a.session = resp.Session.Clone()
	a.mu.Unlock()

	a.logger.Debug("Session acquired", "session_id", resp.Session.ID, "reused", resp.Reused)
	return resp.Session, nil
}

func (a *Agent) releaseSession(ctx context.Context, sessionID string) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.CallTimeout)
	defer cancel()

	if _, err := a.client.ReleaseSession(callCtx, &rpc.SessionRequest{SessionID: sessionID}); err != nil {
		a.logger.Debug("Failed to release session", "session_id", sessionID, "error", err)
	}
}

// dropSession forgets sessionID if it is still the current session
func (a *Agent) dropSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil && a.session.ID == sessionID {
		a.session = nil
	}
}

func (a *Agent) shutdown(ctx context.Context) {
	sess := a.Session()
	if sess == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	_, err := a.client.TerminateSession(callCtx, &rpc.SessionRequest{
		SessionID: sess.ID,
		Cause:     types.CauseWorkerShutdown,
	})
	if err != nil {
		a.logger.Warn("Failed to terminate session on shutdown", "session_id", sess.ID, "error", err)
		return
	}
	a.dropSession(sess.ID)
	a.logger.Info("Terminated session on shutdown", "session_id", sess.ID)
}
