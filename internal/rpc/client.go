package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the worker-side stub of the Orchestrator service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial opens an insecure connection to addr
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}
	return conn, nil
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// Enqueue adds a work item
func (c *Client) Enqueue(ctx context.Context, in *EnqueueRequest) (*EnqueueResponse, error) {
	return invoke[EnqueueResponse](ctx, c, MethodEnqueue, in)
}

// Claim leases the next eligible work item
func (c *Client) Claim(ctx context.Context, in *ClaimRequest) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, MethodClaim, in)
}

// Complete reports a finished work item
func (c *Client) Complete(ctx context.Context, in *CompleteRequest) (*Ack, error) {
	return invoke[Ack](ctx, c, MethodComplete, in)
}

// Fail reports a failed work item
func (c *Client) Fail(ctx context.Context, in *FailRequest) (*Ack, error) {
	return invoke[Ack](ctx, c, MethodFail, in)
}

// CreateSession asks for a session to run a task in
func (c *Client) CreateSession(ctx context.Context, in *CreateSessionRequest) (*CreateSessionResponse, error) {
	return invoke[CreateSessionResponse](ctx, c, MethodCreateSession, in)
}

// Heartbeat reports liveness
func (c *Client) Heartbeat(ctx context.Context, in *HeartbeatRequest) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c, MethodHeartbeat, in)
}

// ReleaseSession detaches the finished task from a session
func (c *Client) ReleaseSession(ctx context.Context, in *SessionRequest) (*Ack, error) {
	return invoke[Ack](ctx, c, MethodReleaseSession, in)
}

// TerminateSession ends a session
func (c *Client) TerminateSession(ctx context.Context, in *SessionRequest) (*Ack, error) {
	return invoke[Ack](ctx, c, MethodTerminateSession, in)
}

// Submit posts a question
func (c *Client) Submit(ctx context.Context, in *SubmitRequest) (*SubmitResponse, error) {
	return invoke[SubmitResponse](ctx, c, MethodSubmit, in)
}

// Await waits for the response to a submitted question
func (c *Client) Await(ctx context.Context, in *AwaitRequest) (*AwaitResponse, error) {
	return invoke[AwaitResponse](ctx, c, MethodAwait, in)
}
