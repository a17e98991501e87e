package config

import "testing"

func TestAllTools(t *testing.T) {
	tools := AllTools()
	expectedCount := 8
	if len(tools) != expectedCount {
		t.Errorf("Expected %d tools, got %d", expectedCount, len(tools))
	}

	expectedTools := map[string]bool{
		ToolRequestsPending:  true,
		ToolRequestsAnswer:   true,
		ToolRequestsThread:   true,
		ToolQueueStats:       true,
		ToolQueueDeadLetters: true,
		ToolSessionsList:     true,
		ToolWorkersList:      true,
		ToolWorkersRemove:    true,
	}

	for _, tool := range tools {
		if !expectedTools[tool] {
			t.Errorf("Unexpected tool: %s", tool)
		}
		delete(expectedTools, tool)
	}

	if len(expectedTools) > 0 {
		t.Errorf("Missing tools: %v", expectedTools)
	}
}
