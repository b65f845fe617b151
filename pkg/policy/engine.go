package policy

import (
	"fmt"
	"sort"

	"github.com/warden-labs/warden/pkg/contracts"
)

// Engine selects the winning rule from a policy by specificity and effect.
// It is a pure function of its inputs: same (policy, request) produces
// byte-identical output, and rule order in the input never affects the
// outcome because the sort is total.
type Engine struct{}

// NewEngine creates a policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Rule specificity levels.
const (
	specWildcard    = 0 // tool pattern is "*"
	specExact       = 1 // exact tool, no effective condition
	specConditional = 2 // exact tool with at least one operator
)

// Evaluate decides a request against a policy. A nil policy, a nil rules
// list, or a panic during traversal all deny (the fail-secure floor).
func (e *Engine) Evaluate(p *contracts.Policy, req contracts.EvaluationRequest, traceID string) (result *contracts.EvaluationResult) {
	result = &contracts.EvaluationResult{
		TraceID:      traceID,
		AppliedRules: []contracts.PolicyRule{},
	}
	defer func() {
		if r := recover(); r != nil {
			result = &contracts.EvaluationResult{
				TraceID:      traceID,
				AppliedRules: []contracts.PolicyRule{},
				Reason:       "policy evaluation failed",
			}
		}
	}()

	if p == nil || p.Rules == nil {
		result.Reason = "no policy"
		return result
	}

	matched := make([]contracts.PolicyRule, 0, len(p.Rules))
	for _, rule := range p.Rules {
		if rule.Tool != req.Tool && rule.Tool != "*" {
			continue
		}
		if !EvaluateCondition(rule.Condition, req.Parameters) {
			continue
		}
		matched = append(matched, rule)
	}

	if len(matched) == 0 {
		result.Reason = fmt.Sprintf("no matching rule for tool %q in policy %q", req.Tool, p.Name)
		return result
	}

	// Total order: specificity descending, deny before allow at equal
	// specificity. The tie-break is the fail-secure direction.
	sort.SliceStable(matched, func(i, j int) bool {
		si, sj := Specificity(matched[i]), Specificity(matched[j])
		if si != sj {
			return si > sj
		}
		return matched[i].Effect == contracts.EffectDeny && matched[j].Effect == contracts.EffectAllow
	})

	winner := matched[0]
	result.Allowed = winner.Effect == contracts.EffectAllow
	result.Reason = winner.Reason
	result.AppliedRules = matched
	return result
}

// Specificity assigns the lattice level of a matching rule: 2 for an exact
// tool with at least one operator, 1 for an exact tool without an
// effective condition, 0 for the wildcard.
func Specificity(rule contracts.PolicyRule) int {
	if rule.Tool == "*" {
		return specWildcard
	}
	if hasEffectiveCondition(rule.Condition) {
		return specConditional
	}
	return specExact
}

func hasEffectiveCondition(cond contracts.Condition) bool {
	for _, ops := range cond {
		if len(ops) > 0 {
			return true
		}
	}
	return false
}
