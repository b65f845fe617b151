package policy

import (
	"fmt"

	"github.com/warden-labs/warden/pkg/contracts"
)

// Validate checks a policy at input time. Runtime evaluation fails secure
// regardless; validation exists so misconfigurations surface early with a
// stable error code.
func Validate(p *contracts.Policy) error {
	if p == nil {
		return invalidPolicy("policy is required")
	}
	if p.Name == "" {
		return invalidPolicy("policy name must not be empty")
	}
	if len(p.Rules) == 0 || len(p.Rules) > contracts.MaxPolicyRules {
		return invalidPolicy(fmt.Sprintf("policy must have between 1 and %d rules, got %d", contracts.MaxPolicyRules, len(p.Rules))).
			WithContext("ruleCount", len(p.Rules))
	}
	for i, rule := range p.Rules {
		if err := validateRule(i, rule); err != nil {
			return err
		}
	}
	return nil
}

func validateRule(idx int, rule contracts.PolicyRule) error {
	if rule.Tool == "" {
		return invalidPolicy(fmt.Sprintf("rule %d: tool pattern must not be empty", idx))
	}
	if rule.Effect != contracts.EffectAllow && rule.Effect != contracts.EffectDeny {
		return invalidPolicy(fmt.Sprintf("rule %d: effect must be allow or deny, got %q", idx, rule.Effect))
	}
	for param, ops := range rule.Condition {
		if param == "" {
			return invalidPolicy(fmt.Sprintf("rule %d: condition parameter name must not be empty", idx))
		}
		for op, operand := range ops {
			if !contracts.KnownOperators[op] {
				return invalidPolicy(fmt.Sprintf("rule %d: unknown condition operator %q", idx, op)).
					WithContext("operator", op)
			}
			if op == contracts.OpMatches {
				pattern, ok := operand.(string)
				if !ok {
					return invalidPolicy(fmt.Sprintf("rule %d: matches operand must be a string", idx))
				}
				if !SafePattern(pattern) {
					return invalidPolicy(fmt.Sprintf("rule %d: unsafe or oversized regex operand", idx)).
						WithContext("pattern", pattern)
				}
			}
		}
	}
	// Rate limits are accepted but never enforced; only shape is checked.
	if rl := rule.RateLimit; rl != nil {
		if rl.MaxCalls < 0 || rl.WindowSeconds < 0 {
			return invalidPolicy(fmt.Sprintf("rule %d: rate limit values must be non-negative", idx))
		}
	}
	return nil
}

func invalidPolicy(msg string) *contracts.GovernanceError {
	return contracts.NewGovernanceError(contracts.CodeInvalidPolicy, contracts.CategoryConfigError, msg)
}
