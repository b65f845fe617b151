// Package firewall guards the boundary between agents and tool
// execution: a pure injection-pattern detector over request parameters,
// and a dispatcher wrapper that consults the governance engine before
// delegating to the real tool runtime.
package firewall

import (
	"fmt"
	"strings"
)

// Finding reports one injection pattern matched inside a parameter
// value. Parameter uses dotted/indexed paths for nested values.
type Finding struct {
	Parameter string `json:"parameter"`
	Pattern   string `json:"pattern"`
}

// injectionPatterns are matched case-insensitively against every string
// parameter value. Phrase patterns catch instruction-override attempts;
// marker patterns catch smuggled prompt scaffolding.
var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard previous instructions",
	"disregard your instructions",
	"forget your instructions",
	"override your instructions",
	"you are now",
	"act as if",
	"new system prompt",
	"system prompt:",
	"<|im_start|>",
	"[system]",
	"do anything now",
}

// DetectInjection scans every string value in params, descending into
// nested maps and slices, and returns one finding per matched pattern.
// It performs no I/O and never modifies params; an empty result means
// nothing matched.
func DetectInjection(params map[string]any) []Finding {
	var findings []Finding
	for key, value := range params {
		findings = append(findings, scanValue(key, value)...)
	}
	return findings
}

func scanValue(path string, value any) []Finding {
	switch v := value.(type) {
	case string:
		return scanString(path, v)
	case map[string]any:
		var findings []Finding
		for key, nested := range v {
			findings = append(findings, scanValue(path+"."+key, nested)...)
		}
		return findings
	case []any:
		var findings []Finding
		for i, nested := range v {
			findings = append(findings, scanValue(fmt.Sprintf("%s[%d]", path, i), nested)...)
		}
		return findings
	default:
		return nil
	}
}

func scanString(path, value string) []Finding {
	lowered := strings.ToLower(value)
	var findings []Finding
	for _, pattern := range injectionPatterns {
		if strings.Contains(lowered, pattern) {
			findings = append(findings, Finding{Parameter: path, Pattern: pattern})
		}
	}
	return findings
}
