// Package routing decides whether a worker request is answered by the
// automated arm or escalated to a human.
package routing

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// Standard rule names
const (
	RuleHumanRequired    = "human_required"
	RuleCriticalPriority = "critical_priority"
	RuleApprovalRequest  = "approval_request"
	RuleAutonomousSimple = "autonomous_simple"
	RuleDefaultHuman     = "default_human"
)

// Input is everything a rule may look at
type Input struct {
	Kind            types.RequestKind
	PermissionLevel types.PermissionLevel
	TaskPriority    types.TaskPriority
	Content         string
}

// Predicate reports whether a rule applies to in
type Predicate func(in Input) bool

// Rule maps a predicate to a route
type Rule struct {
	Name        string
	Priority    int
	Description string
	Match       Predicate
	Route       types.Route
}

// Table is an immutable, priority-ordered rule list
type Table struct {
	rules []Rule
}

// NewTable sorts rules by descending priority, keeping insertion order for
// equal priorities. A catch-all default_human rule is appended if missing.
func NewTable(rules ...Rule) *Table {
	sorted := make([]Rule, 0, len(rules)+1)
	hasDefault := false
	for _, r := range rules {
		if r.Name == RuleDefaultHuman {
			hasDefault = true
		}
		sorted = append(sorted, r)
	}
	if !hasDefault {
		sorted = append(sorted, defaultHuman())
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return &Table{rules: sorted}
}

// Rules returns a copy of the ordered rules
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// StandardRules returns the built-in rule set. maxLength bounds what the
// simple heuristic accepts and is read on every evaluation.
func StandardRules(maxLength func() int) []Rule {
	return []Rule{
		{
			Name:        RuleHumanRequired,
			Priority:    100,
			Description: "worker asked for a human",
			Match: func(in Input) bool {
				return in.PermissionLevel == types.PermissionHumanRequired
			},
			Route: types.RouteHuman,
		},
		{
			Name:        RuleCriticalPriority,
			Priority:    90,
			Description: "task is critical",
			Match: func(in Input) bool {
				return in.TaskPriority == types.TaskPriorityCritical
			},
			Route: types.RouteHuman,
		},
		{
			Name:        RuleApprovalRequest,
			Priority:    80,
			Description: "approvals always go to a human",
			Match: func(in Input) bool {
				return in.Kind == types.KindApproval
			},
			Route: types.RouteHuman,
		},
		{
			Name:        RuleAutonomousSimple,
			Priority:    50,
			Description: "autonomous worker asked a simple question",
			Match: func(in Input) bool {
				return in.PermissionLevel == types.PermissionAutonomous && SimpleHeuristic(in.Content, maxLength())
			},
			Route: types.RouteAutomated,
		},
		defaultHuman(),
	}
}

func defaultHuman() Rule {
	return Rule{
		Name:        RuleDefaultHuman,
		Priority:    0,
		Description: "no other rule matched",
		Match:       func(Input) bool { return true },
		Route:       types.RouteHuman,
	}
}

var (
	escalationKeywords = []string{"delete", "production", "credential", "secret", "security", "deploy", "payment", "legal"}
	simpleMarkers      = []string{"how do i", "what is", "which", "where", "format", "naming", "test", "?"}
)

// SimpleHeuristic reports whether content looks like a question the
// automated arm can answer: short, free of escalation keywords, and shaped
// like a lookup question
func SimpleHeuristic(content string, maxLength int) bool {
	if maxLength > 0 && utf8.RuneCountInString(content) > maxLength {
		return false
	}
	lower := strings.ToLower(content)
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, m := range simpleMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
