package domain

import "testing"

func TestGroupRuleMatches(t *testing.T) {
	stats := map[string]float64{"gold": 100, "deaths": 3}

	tests := []struct {
		name string
		rule GroupRule
		want bool
	}{
		{"eq match", GroupRule{Stat: "deaths", Operator: OpEq, Value: 3}, true},
		{"eq miss", GroupRule{Stat: "deaths", Operator: OpEq, Value: 4}, false},
		{"neq match", GroupRule{Stat: "deaths", Operator: OpNeq, Value: 4}, true},
		{"gt match", GroupRule{Stat: "gold", Operator: OpGt, Value: 99}, true},
		{"gt boundary", GroupRule{Stat: "gold", Operator: OpGt, Value: 100}, false},
		{"gte boundary", GroupRule{Stat: "gold", Operator: OpGte, Value: 100}, true},
		{"lt match", GroupRule{Stat: "deaths", Operator: OpLt, Value: 5}, true},
		{"lte boundary", GroupRule{Stat: "deaths", Operator: OpLte, Value: 3}, true},
		{"unknown stat never matches", GroupRule{Stat: "mana", Operator: OpGte, Value: 0}, false},
		{"unknown operator never matches", GroupRule{Stat: "gold", Operator: "like", Value: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule.Matches(stats); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupEligibility(t *testing.T) {
	stats := map[string]float64{"gold": 100, "deaths": 3}
	rich := GroupRule{Stat: "gold", Operator: OpGte, Value: 50}
	careless := GroupRule{Stat: "deaths", Operator: OpGt, Value: 10}

	tests := []struct {
		name  string
		group PlayerGroup
		want  bool
	}{
		{"all mode requires every rule", PlayerGroup{RuleMode: RuleModeAll, Rules: []GroupRule{rich, careless}}, false},
		{"all mode with all matching", PlayerGroup{RuleMode: RuleModeAll, Rules: []GroupRule{rich}}, true},
		{"any mode requires one rule", PlayerGroup{RuleMode: RuleModeAny, Rules: []GroupRule{rich, careless}}, true},
		{"any mode with none matching", PlayerGroup{RuleMode: RuleModeAny, Rules: []GroupRule{careless}}, false},
		{"no rules means nobody qualifies", PlayerGroup{RuleMode: RuleModeAll}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.group.Eligible(stats); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}
