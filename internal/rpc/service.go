package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "agentvine.v1.Orchestrator"

// Method names
const (
	MethodEnqueue          = "Enqueue"
	MethodClaim            = "Claim"
	MethodComplete         = "Complete"
	MethodFail             = "Fail"
	MethodCreateSession    = "CreateSession"
	MethodHeartbeat        = "Heartbeat"
	MethodReleaseSession   = "ReleaseSession"
	MethodTerminateSession = "TerminateSession"
	MethodSubmit           = "Submit"
	MethodAwait            = "Await"
)

// OrchestratorServer is the worker-facing API
type OrchestratorServer interface {
	Enqueue(context.Context, *EnqueueRequest) (*EnqueueResponse, error)
	Claim(context.Context, *ClaimRequest) (*ClaimResponse, error)
	Complete(context.Context, *CompleteRequest) (*Ack, error)
	Fail(context.Context, *FailRequest) (*Ack, error)
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	ReleaseSession(context.Context, *SessionRequest) (*Ack, error)
	TerminateSession(context.Context, *SessionRequest) (*Ack, error)
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	Await(context.Context, *AwaitRequest) (*AwaitResponse, error)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds a method descriptor that decodes Req and dispatches to call
func unary[Req, Resp any](name string, call func(OrchestratorServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrchestratorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrchestratorServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Orchestrator service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchestratorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodEnqueue, OrchestratorServer.Enqueue),
		unary(MethodClaim, OrchestratorServer.Claim),
		unary(MethodComplete, OrchestratorServer.Complete),
		unary(MethodFail, OrchestratorServer.Fail),
		unary(MethodCreateSession, OrchestratorServer.CreateSession),
		unary(MethodHeartbeat, OrchestratorServer.Heartbeat),
		unary(MethodReleaseSession, OrchestratorServer.ReleaseSession),
		unary(MethodTerminateSession, OrchestratorServer.TerminateSession),
		unary(MethodSubmit, OrchestratorServer.Submit),
		unary(MethodAwait, OrchestratorServer.Await),
	},
	Metadata: "agentvine/v1/orchestrator",
}
