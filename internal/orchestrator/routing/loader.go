package routing

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/agentvine/internal/types"
)

var errReservedRule = errors.New("default_human cannot be redefined")

// RuleFile is the YAML layout of a rule file
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec declares one rule. All non-empty match fields must hold.
type RuleSpec struct {
	Name        string    `yaml:"name"`
	Priority    int       `yaml:"priority"`
	Description string    `yaml:"description"`
	Route       string    `yaml:"route"`
	Match       MatchSpec `yaml:"match"`
}

// MatchSpec is the declarative form of a Predicate
type MatchSpec struct {
	Kinds            []string `yaml:"kinds"`
	PermissionLevels []string `yaml:"permission_levels"`
	TaskPriorities   []string `yaml:"task_priorities"`
	Contains         []string `yaml:"contains"`
	MaxLength        int      `yaml:"max_length"`
}

// LoadRuleFile reads and compiles rules from a YAML file
func LoadRuleFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules compiles rules from YAML
func ParseRules(data []byte) ([]Rule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid rule file: %w", err)
	}

	seen := make(map[string]bool, len(file.Rules))
	rules := make([]Rule, 0, len(file.Rules))
	for i, def := range file.Rules {
		if def.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if def.Name == RuleDefaultHuman {
			return nil, fmt.Errorf("rule %d: %w", i, errReservedRule)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("rule %d: duplicate name %q", i, def.Name)
		}
		seen[def.Name] = true

		rule, err := def.compile()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Merge overlays custom rules on base. A custom rule replaces a base rule of
// the same name.
func Merge(base, custom []Rule) []Rule {
	out := make([]Rule, 0, len(base)+len(custom))
	for _, b := range base {
		if !slices.ContainsFunc(custom, func(c Rule) bool { return c.Name == b.Name }) {
			out = append(out, b)
		}
	}
	return append(out, custom...)
}

func (s RuleSpec) compile() (Rule, error) {
	route := types.Route(s.Route)
	if route != types.RouteAutomated && route != types.RouteHuman {
		return Rule{}, fmt.Errorf("unknown route %q", s.Route)
	}
	if s.Priority <= 0 {
		return Rule{}, fmt.Errorf("priority must be positive, got %d", s.Priority)
	}
	if s.Match.MaxLength < 0 {
		return Rule{}, fmt.Errorf("max_length cannot be negative")
	}
	for _, k := range s.Match.Kinds {
		if !validKind(types.RequestKind(k)) {
			return Rule{}, fmt.Errorf("unknown kind %q", k)
		}
	}
	for _, p := range s.Match.PermissionLevels {
		if !validPermission(types.PermissionLevel(p)) {
			return Rule{}, fmt.Errorf("unknown permission level %q", p)
		}
	}
	for _, p := range s.Match.TaskPriorities {
		if !types.TaskPriority(p).Valid() {
			return Rule{}, fmt.Errorf("unknown task priority %q", p)
		}
	}

	m := s.Match
	contains := make([]string, len(m.Contains))
	for i, c := range m.Contains {
		contains[i] = strings.ToLower(c)
	}

	match := func(in Input) bool {
		if len(m.Kinds) > 0 && !slices.Contains(m.Kinds, string(in.Kind)) {
			return false
		}
		if len(m.PermissionLevels) > 0 && !slices.Contains(m.PermissionLevels, string(in.PermissionLevel)) {
			return false
		}
		if len(m.TaskPriorities) > 0 && !slices.Contains(m.TaskPriorities, string(in.TaskPriority)) {
			return false
		}
		if m.MaxLength > 0 && utf8.RuneCountInString(in.Content) > m.MaxLength {
			return false
		}
		if len(contains) > 0 {
			lower := strings.ToLower(in.Content)
			return slices.ContainsFunc(contains, func(c string) bool { return strings.Contains(lower, c) })
		}
		return true
	}

	return Rule{
		Name:        s.Name,
		Priority:    s.Priority,
		Description: s.Description,
		Match:       match,
		Route:       route,
	}, nil
}

func validKind(k types.RequestKind) bool {
	switch k {
	case types.KindClarification, types.KindApproval, types.KindGuidance, types.KindError, types.KindStatus:
		return true
	}
	return false
}

func validPermission(p types.PermissionLevel) bool {
	switch p {
	case types.PermissionAutonomous, types.PermissionSupervised, types.PermissionHumanRequired:
		return true
	}
	return false
}

