package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/session"
	"github.com/AltairaLabs/agentvine/internal/orchestrator/storage"
	"github.com/AltairaLabs/agentvine/internal/taskqueue"
	"github.com/AltairaLabs/agentvine/internal/types"
)

// Server implements OrchestratorServer over the orchestration core
type Server struct {
	queue    *taskqueue.TaskQueue
	sessions *session.Registry
	channel  *messaging.Channel
	liveness storage.WorkerLivenessStorage
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates the worker-facing server. liveness may be nil.
func NewServer(
	queue *taskqueue.TaskQueue,
	sessions *session.Registry,
	channel *messaging.Channel,
	liveness storage.WorkerLivenessStorage,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		queue:    queue,
		sessions: sessions,
		channel:  channel,
		liveness: liveness,
		logger:   logger,
		now:      time.Now,
	}
}

// Register adds the service and a health service to gs. The returned health
// server reports SERVING until it is shut down.
func (s *Server) Register(gs *grpc.Server) *health.Server {
	gs.RegisterService(&ServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// Enqueue adds a work item
func (s *Server) Enqueue(ctx context.Context, req *EnqueueRequest) (*EnqueueResponse, error) {
	if req.Item == nil {
		return nil, status.Error(codes.InvalidArgument, "item is required")
	}
	item, err := s.queue.EnqueueTask(ctx, req.Item, req.Task)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EnqueueResponse{Item: item}, nil
}

// Claim leases the next eligible work item
func (s *Server) Claim(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error) {
	if req.WorkerID == "" {
		return nil, status.Error(codes.InvalidArgument, "worker_id is required")
	}
	item, err := s.queue.Claim(ctx, req.WorkerID, req.Capabilities)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ClaimResponse{Item: item}, nil
}

// Complete reports a finished work item. A stale completion is acknowledged
// with Stale set.
func (s *Server) Complete(ctx context.Context, req *CompleteRequest) (*Ack, error) {
	if req.ItemID == "" || req.WorkerID == "" {
		return nil, status.Error(codes.InvalidArgument, "item_id and worker_id are required")
	}
	return s.ack(s.queue.Complete(ctx, req.ItemID, req.WorkerID, req.Result))
}

// Fail reports a failed work item
func (s *Server) Fail(ctx context.Context, req *FailRequest) (*Ack, error) {
	if req.ItemID == "" || req.WorkerID == "" {
		return nil, status.Error(codes.InvalidArgument, "item_id and worker_id are required")
	}
	return s.ack(s.queue.Fail(ctx, req.ItemID, req.WorkerID, req.Reason))
}

func (s *Server) ack(err error) (*Ack, error) {
	if errors.Is(err, taskqueue.ErrStaleOperation) {
		return &Ack{Acknowledged: true, Stale: true}, nil
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Acknowledged: true}, nil
}

// CreateSession returns the session a worker should run a task in
func (s *Server) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	if req.WorkerID == "" {
		return nil, status.Error(codes.InvalidArgument, "worker_id is required")
	}
	sess, reused, err := s.sessions.CreateOrReuse(ctx, req.WorkerID, req.TaskID, session.Hints{
		ReuseForSimilarTask: req.ReuseForSimilarTask,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateSessionResponse{Session: sess, Reused: reused}, nil
}

// Heartbeat records worker liveness and session activity
func (s *Server) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if req.WorkerID == "" {
		return nil, status.Error(codes.InvalidArgument, "worker_id is required")
	}

	if s.liveness != nil {
		err := s.liveness.RecordHeartbeat(ctx, &storage.WorkerHeartbeat{
			WorkerID:      req.WorkerID,
			SessionID:     req.SessionID,
			Metrics:       req.Metrics,
			LastHeartbeat: s.now(),
		})
		if err != nil {
			s.logger.Warn("Failed to record worker heartbeat", "worker_id", req.WorkerID, "error", err)
		}
	}

	if req.SessionID == "" {
		return &HeartbeatResponse{Acknowledged: true}, nil
	}

	err := s.sessions.Heartbeat(ctx, req.SessionID)
	switch {
	case err == nil:
		return &HeartbeatResponse{Acknowledged: true}, nil
	case errors.Is(err, session.ErrSessionTerminated):
		return &HeartbeatResponse{Acknowledged: true, Terminated: true}, nil
	default:
		return nil, toStatus(err)
	}
}

// ReleaseSession detaches the finished task from a session
func (s *Server) ReleaseSession(ctx context.Context, req *SessionRequest) (*Ack, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if err := s.sessions.Release(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Acknowledged: true}, nil
}

// TerminateSession ends a session, typically on worker shutdown
func (s *Server) TerminateSession(ctx context.Context, req *SessionRequest) (*Ack, error) {
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	cause := req.Cause
	if cause == types.CauseNone {
		cause = types.CauseWorkerShutdown
	}
	if err := s.sessions.Terminate(ctx, req.SessionID, cause); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Acknowledged: true}, nil
}

// Submit posts a worker question. Validation happens in the orchestrator loop
// so malformed requests still get a response.
func (s *Server) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.Request == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	p, err := s.channel.Submit(ctx, req.Request)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{RequestID: p.Request.ID}, nil
}

// Await blocks until the request is answered or the call deadline passes
func (s *Server) Await(ctx context.Context, req *AwaitRequest) (*AwaitResponse, error) {
	if req.RequestID == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	resp, err := s.channel.Await(ctx, req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AwaitResponse{Response: resp}, nil
}

// toStatus maps domain errors to gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, messaging.ErrUnknownRequest),
		errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, session.ErrSessionTerminated),
		errors.Is(err, taskqueue.ErrStaleOperation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, taskqueue.ErrInvalidWorkItem):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, messaging.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
