package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/warden-labs/warden/pkg/config"
	"github.com/warden-labs/warden/pkg/contracts"
)

func runAgent(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden agent <register|get|list|status|delete>")
		return 2
	}
	switch args[0] {
	case "register":
		return runAgentRegister(args[1:], stdout, stderr)
	case "get":
		return runAgentGet(args[1:], stdout, stderr)
	case "list":
		return runAgentList(stdout, stderr)
	case "status":
		return runAgentStatus(args[1:], stdout, stderr)
	case "delete":
		return runAgentDelete(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown agent subcommand: %s\n", args[0])
		return 2
	}
}

func runAgentRegister(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("agent register", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var file string
	cmd.StringVar(&file, "file", "", "Agent configuration, JSON or YAML (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "agent register: --file is required")
		return 2
	}

	cfg, err := config.LoadAgentFile(file)
	if err != nil {
		return fail(stderr, err)
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	stored, err := e.RegisterAgent(ctx, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "agent %q registered with %d allowed tools\n",
		stored.AgentID, len(stored.AllowedTools))
	return 0
}

func runAgentGet(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden agent get <agent-id>")
		return 2
	}
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	cfg, err := e.GetAgent(ctx, args[0])
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, cfg); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runAgentList(stdout, stderr io.Writer) int {
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	agents, err := e.ListAgents(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	for _, a := range agents {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%d tools\n", a.AgentID, a.Name, a.Status, len(a.AllowedTools))
	}
	return 0
}

func runAgentStatus(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("agent status", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		agentID string
		status  string
	)
	cmd.StringVar(&agentID, "agent", "", "Agent id (REQUIRED)")
	cmd.StringVar(&status, "set", "", "New status: registered|running|stopped|error (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if agentID == "" || status == "" {
		_, _ = fmt.Fprintln(stderr, "agent status: --agent and --set are required")
		return 2
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	cfg, err := e.UpdateAgentStatus(ctx, agentID, contracts.AgentStatus(status))
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "agent %q is now %s\n", cfg.AgentID, cfg.Status)
	return 0
}

func runAgentDelete(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden agent delete <agent-id>")
		return 2
	}
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	if err := e.DeleteAgent(ctx, args[0]); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "agent %q deleted\n", args[0])
	return 0
}
