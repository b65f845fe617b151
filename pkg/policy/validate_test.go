package policy

import (
	"strings"
	"testing"

	"github.com/warden-labs/warden/pkg/contracts"
)

func validPolicy() *contracts.Policy {
	return &contracts.Policy{
		Name:  "base",
		Rules: []contracts.PolicyRule{{Tool: "*", Effect: contracts.EffectAllow}},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validPolicy()); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tooMany := make([]contracts.PolicyRule, contracts.MaxPolicyRules+1)
	for i := range tooMany {
		tooMany[i] = contracts.PolicyRule{Tool: "*", Effect: contracts.EffectAllow}
	}

	tests := []struct {
		name   string
		mutate func(*contracts.Policy)
	}{
		{"nil policy", nil},
		{"empty name", func(p *contracts.Policy) { p.Name = "" }},
		{"no rules", func(p *contracts.Policy) { p.Rules = nil }},
		{"too many rules", func(p *contracts.Policy) { p.Rules = tooMany }},
		{"empty tool", func(p *contracts.Policy) { p.Rules[0].Tool = "" }},
		{"bad effect", func(p *contracts.Policy) { p.Rules[0].Effect = "audit" }},
		{"unknown operator", func(p *contracts.Policy) {
			p.Rules[0].Condition = contracts.Condition{"a": contracts.OperatorSet{"regexLike": "x"}}
		}},
		{"unsafe matches operand", func(p *contracts.Policy) {
			p.Rules[0].Condition = contracts.Condition{"a": contracts.OperatorSet{"matches": "(a+)+"}}
		}},
		{"oversized matches operand", func(p *contracts.Policy) {
			p.Rules[0].Condition = contracts.Condition{"a": contracts.OperatorSet{"matches": strings.Repeat("x", 201)}}
		}},
		{"negative rate limit", func(p *contracts.Policy) {
			p.Rules[0].RateLimit = &contracts.RateLimit{MaxCalls: -1}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPolicy()
			if tt.mutate == nil {
				p = nil
			} else {
				tt.mutate(p)
			}
			err := Validate(p)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !contracts.IsCode(err, contracts.CodeInvalidPolicy) {
				t.Errorf("expected INVALID_POLICY, got %v", err)
			}
		})
	}
}

func TestValidate_RateLimitAcceptedButUnused(t *testing.T) {
	p := validPolicy()
	p.Rules[0].RateLimit = &contracts.RateLimit{MaxCalls: 10, WindowSeconds: 60}
	if err := Validate(p); err != nil {
		t.Fatalf("rate-limit descriptor must be accepted: %v", err)
	}
}
