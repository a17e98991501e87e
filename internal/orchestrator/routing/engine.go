package routing

import (
	"fmt"
	"log/slog"

	"github.com/AltairaLabs/agentvine/internal/types"
)

// Engine evaluates a rule table. It is stateless and safe for concurrent use.
type Engine struct {
	table  *Table
	logger *slog.Logger
}

// NewEngine creates an engine over table. A nil table uses the standard rules
// with no length limit on simple questions.
func NewEngine(table *Table, logger *slog.Logger) *Engine {
	if table == nil {
		table = NewTable(StandardRules(func() int { return 0 })...)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{table: table, logger: logger}
}

// Table returns the engine's rule table
func (e *Engine) Table() *Table {
	return e.table
}

// Decide returns the route of the first matching rule. The rationale lists
// the rules passed over and the one that fired.
func (e *Engine) Decide(in Input) types.RoutingDecision {
	rationale := make([]string, 0, len(e.table.rules))

	for _, r := range e.table.rules {
		if r.Match == nil || !r.Match(in) {
			rationale = append(rationale, "skipped "+r.Name)
			continue
		}
		rationale = append(rationale, fmt.Sprintf("matched %s (priority %d): %s", r.Name, r.Priority, r.Description))
		e.logger.Debug("Routing decision",
			"rule", r.Name,
			"route", r.Route,
			"kind", in.Kind,
			"permission_level", in.PermissionLevel,
			"task_priority", in.TaskPriority,
		)
		return types.RoutingDecision{Route: r.Route, Rule: r.Name, Rationale: rationale}
	}

	// Unreachable with a table built by NewTable
	return types.RoutingDecision{
		Route:     types.RouteHuman,
		Rule:      RuleDefaultHuman,
		Rationale: append(rationale, "no rule matched"),
	}
}
