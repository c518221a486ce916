package domain

import "time"

// RuleMode controls how a group's rules combine
type RuleMode string

const (
	RuleModeAll RuleMode = "all"
	RuleModeAny RuleMode = "any"
)

// RuleOperator compares a player's stat value against a rule threshold
type RuleOperator string

const (
	OpEq  RuleOperator = "eq"
	OpNeq RuleOperator = "neq"
	OpGt  RuleOperator = "gt"
	OpGte RuleOperator = "gte"
	OpLt  RuleOperator = "lt"
	OpLte RuleOperator = "lte"
)

// GroupRule is one condition on a player's current stat value, addressed
// by the stat's internal name. A player with no row for the stat is
// evaluated against the stat's default value, which the caller supplies
// in the stats map.
type GroupRule struct {
	Stat     string       `json:"stat"`
	Operator RuleOperator `json:"operator"`
	Value    float64      `json:"value"`
}

// Matches reports whether the rule holds for the given stat values.
// A rule referencing an unknown stat never matches.
func (r GroupRule) Matches(stats map[string]float64) bool {
	current, ok := stats[r.Stat]
	if !ok {
		return false
	}
	switch r.Operator {
	case OpEq:
		return current == r.Value
	case OpNeq:
		return current != r.Value
	case OpGt:
		return current > r.Value
	case OpGte:
		return current >= r.Value
	case OpLt:
		return current < r.Value
	case OpLte:
		return current <= r.Value
	default:
		return false
	}
}

// PlayerGroup is a dynamic player segment whose membership is derived
// from rules evaluated against each player's current stats.
type PlayerGroup struct {
	ID        string      `json:"id"`
	GameID    string      `json:"game_id"`
	Name      string      `json:"name"`
	RuleMode  RuleMode    `json:"rule_mode"`
	Rules     []GroupRule `json:"rules"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Eligible reports whether a player with the given stat values should be
// a member of the group. A group with no rules matches nobody.
func (g *PlayerGroup) Eligible(stats map[string]float64) bool {
	if len(g.Rules) == 0 {
		return false
	}
	for _, rule := range g.Rules {
		matched := rule.Matches(stats)
		if g.RuleMode == RuleModeAny && matched {
			return true
		}
		if g.RuleMode != RuleModeAny && !matched {
			return false
		}
	}
	return g.RuleMode != RuleModeAny
}
