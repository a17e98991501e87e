package config

// Messages used throughout the orchestrator
const (
	// MsgHumanTimeout is the format string for the synthetic response emitted when no human answered
	MsgHumanTimeout = "timeout: no human response within %s"
	// MsgMalformedRequest is the format string for the response emitted for a rejected request
	MsgMalformedRequest = "rejected: malformed request: %v"
	// MsgShutdown is the content of responses cancelled by orchestrator shutdown
	MsgShutdown = "cancelled: orchestrator shutting down"
	// MsgInternalError is the content of responses for requests whose processing panicked
	MsgInternalError = "error: request could not be processed"
	// MsgAutomatedAck is the format string of the demo automated handler's answer
	MsgAutomatedAck = "Acknowledged %s request: %s"
	// MsgWorkQueued is the format string for work queued messages
	MsgWorkQueued = "Work item %s queued on %s"
)
