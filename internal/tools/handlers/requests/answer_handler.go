package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/messaging"
)

const defaultResponder = "operator"

// AnswerHandler handles requests.answer
type AnswerHandler struct {
	answerer Answerer
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnswerHandler creates a new answer handler
func NewAnswerHandler(answerer Answerer, logger *slog.Logger) *AnswerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerHandler{answerer: answerer, logger: logger, now: time.Now}
}

// Handle answers a pending request. Only the first answer is delivered.
func (h *AnswerHandler) Handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID, err := request.RequireString("request_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	responder := request.GetString("responder_id", "")
	if responder == "" {
		responder = responderFromContext(ctx)
	}

	err = h.answerer.Answered(requestID, content, responder)
	switch {
	case errors.Is(err, messaging.ErrDuplicateResponse):
		return mcp.NewToolResultError(fmt.Sprintf("Request %s was already answered", requestID)), nil
	case errors.Is(err, messaging.ErrUnknownRequest):
		return mcp.NewToolResultError(fmt.Sprintf("Request not found: %s", requestID)), nil
	case err != nil:
		h.logger.Error("Failed to deliver answer", "request_id", requestID, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, _ := json.Marshal(AnswerResponse{
		RequestID:   requestID,
		Status:      "answered",
		ResponderID: responder,
		AnsweredAt:  h.now(),
	})
	return mcp.NewToolResultText(string(payload)), nil
}

// responderFromContext uses the MCP client session as the responder identity
func responderFromContext(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return defaultResponder
}
