package config

// Tools exposed on the human-interaction MCP surface
const (
	// ToolRequestsPending lists requests waiting for a human answer
	ToolRequestsPending = "requests.pending"
	// ToolRequestsAnswer answers a pending request
	ToolRequestsAnswer = "requests.answer"
	// ToolRequestsThread returns the conversation of a thread
	ToolRequestsThread = "requests.thread"
	// ToolQueueStats reports work queue counts per tier
	ToolQueueStats = "queue.stats"
	// ToolQueueDeadLetters lists dead-lettered work items
	ToolQueueDeadLetters = "queue.deadletters"
	// ToolSessionsList lists sessions known to the registry
	ToolSessionsList = "sessions.list"
	// ToolWorkersList lists workers by last heartbeat
	ToolWorkersList = "workers.list"
	// ToolWorkersRemove forgets a worker
	ToolWorkersRemove = "workers.remove"
)

// AllTools returns a slice of all available tool names
func AllTools() []string {
	return []string{
		ToolRequestsPending,
		ToolRequestsAnswer,
		ToolRequestsThread,
		ToolQueueStats,
		ToolQueueDeadLetters,
		ToolSessionsList,
		ToolWorkersList,
		ToolWorkersRemove,
	}
}
