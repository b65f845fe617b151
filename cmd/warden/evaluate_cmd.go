package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/warden-labs/warden/pkg/contracts"
)

// runEvaluate implements `warden evaluate`. Exit code 0 means allowed,
// 3 means denied or pending approval, so scripts can branch on it.
func runEvaluate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		agentID string
		tool    string
		params  string
		traceID string
	)
	cmd.StringVar(&agentID, "agent", "", "Agent id (REQUIRED)")
	cmd.StringVar(&tool, "tool", "", "Tool name (REQUIRED)")
	cmd.StringVar(&params, "params", "", "Tool parameters as a JSON object")
	cmd.StringVar(&traceID, "trace", "", "Trace id (generated when omitted)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" || tool == "" {
		_, _ = fmt.Fprintln(stderr, "evaluate: --agent and --tool are required")
		return 2
	}

	req := contracts.EvaluationRequest{AgentID: agentID, Tool: tool, TraceID: traceID}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &req.Parameters); err != nil {
			return fail(stderr, fmt.Errorf("evaluate: parse --params: %w", err))
		}
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	result, err := e.Evaluate(ctx, req)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, result); err != nil {
		return fail(stderr, err)
	}
	if !result.Allowed || result.RequiresApproval {
		return 3
	}
	return 0
}
