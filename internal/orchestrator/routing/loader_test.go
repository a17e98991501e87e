package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/agentvine/internal/types"
)

const sampleRules = `
rules:
  - name: status_updates
    priority: 60
    description: status pings are acknowledged automatically
    route: automated
    match:
      kinds: [status]
      max_length: 120
  - name: payments_team
    priority: 95
    route: human
    match:
      contains: [Invoice, refund]
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	e := NewEngine(NewTable(Merge(StandardRules(func() int { return 280 }), rules)...), nil)

	d := e.Decide(Input{Kind: types.KindStatus, PermissionLevel: types.PermissionSupervised, Content: "50% done"})
	assert.Equal(t, types.RouteAutomated, d.Route)
	assert.Equal(t, "status_updates", d.Rule)

	d = e.Decide(Input{Kind: types.KindStatus, PermissionLevel: types.PermissionSupervised, Content: "issue a REFUND"})
	assert.Equal(t, "payments_team", d.Rule)

	// human_required still outranks custom rules below 100
	d = e.Decide(Input{Kind: types.KindStatus, PermissionLevel: types.PermissionHumanRequired, Content: "invoice"})
	assert.Equal(t, RuleHumanRequired, d.Rule)
}

func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "rules: [::"},
		{"missing name", "rules:\n  - priority: 5\n    route: human\n"},
		{"reserved name", "rules:\n  - name: default_human\n    priority: 5\n    route: human\n"},
		{"duplicate", "rules:\n  - name: a\n    priority: 5\n    route: human\n  - name: a\n    priority: 6\n    route: human\n"},
		{"bad route", "rules:\n  - name: a\n    priority: 5\n    route: robot\n"},
		{"zero priority", "rules:\n  - name: a\n    route: human\n"},
		{"bad kind", "rules:\n  - name: a\n    priority: 5\n    route: human\n    match:\n      kinds: [gossip]\n"},
		{"bad permission", "rules:\n  - name: a\n    priority: 5\n    route: human\n    match:\n      permission_levels: [root]\n"},
		{"bad task priority", "rules:\n  - name: a\n    priority: 5\n    route: human\n    match:\n      task_priorities: [urgent]\n"},
		{"negative length", "rules:\n  - name: a\n    priority: 5\n    route: human\n    match:\n      max_length: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMergeReplacesByName(t *testing.T) {
	custom := []Rule{{Name: RuleApprovalRequest, Priority: 10, Match: func(Input) bool { return false }, Route: types.RouteHuman}}
	merged := Merge(StandardRules(func() int { return 280 }), custom)

	count := 0
	for _, r := range merged {
		if r.Name == RuleApprovalRequest {
			count++
			assert.Equal(t, 10, r.Priority)
		}
	}
	assert.Equal(t, 1, count)
}

func TestLoadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	rules, err := LoadRuleFile(path)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = LoadRuleFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
