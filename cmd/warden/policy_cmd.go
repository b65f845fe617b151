package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/warden-labs/warden/pkg/config"
)

func runPolicy(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden policy <set|get|list|delete|history|rollback>")
		return 2
	}
	switch args[0] {
	case "set":
		return runPolicySet(args[1:], stdout, stderr)
	case "get":
		return runPolicyGet(args[1:], stdout, stderr)
	case "list":
		return runPolicyList(stdout, stderr)
	case "delete":
		return runPolicyDelete(args[1:], stdout, stderr)
	case "history":
		return runPolicyHistory(args[1:], stdout, stderr)
	case "rollback":
		return runPolicyRollback(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown policy subcommand: %s\n", args[0])
		return 2
	}
}

func runPolicySet(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy set", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file   string
		author string
	)
	cmd.StringVar(&file, "file", "", "Policy definition, JSON or YAML (REQUIRED)")
	cmd.StringVar(&author, "author", "", "Author recorded in version history")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "policy set: --file is required")
		return 2
	}

	p, err := config.LoadPolicyFile(file)
	if err != nil {
		return fail(stderr, err)
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	stored, err := e.UpsertPolicy(ctx, p, author)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "policy %q stored at version %d\n", stored.Name, stored.Version)
	return 0
}

func runPolicyGet(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden policy get <name>")
		return 2
	}
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	p, err := e.GetPolicy(ctx, args[0])
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, p); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runPolicyList(stdout, stderr io.Writer) int {
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	policies, err := e.ListPolicies(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	for _, p := range policies {
		fmt.Fprintf(stdout, "%s\tv%d\t%d rules", p.Name, p.Version, len(p.Rules))
		if p.AgentID != "" {
			fmt.Fprintf(stdout, "\tagent=%s", p.AgentID)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

func runPolicyDelete(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden policy delete <name>")
		return 2
	}
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	if err := e.DeletePolicy(ctx, args[0]); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "policy %q deleted\n", args[0])
	return 0
}

func runPolicyHistory(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden policy history <name>")
		return 2
	}
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	versions, err := e.PolicyHistory(ctx, args[0])
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, versions); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runPolicyRollback(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy rollback", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		name    string
		version int
		author  string
	)
	cmd.StringVar(&name, "name", "", "Policy name (REQUIRED)")
	cmd.IntVar(&version, "version", 0, "Historical version to restore (REQUIRED)")
	cmd.StringVar(&author, "author", "", "Author recorded in version history")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if name == "" || version <= 0 {
		_, _ = fmt.Fprintln(stderr, "policy rollback: --name and --version are required")
		return 2
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	restored, err := e.RollbackPolicy(ctx, name, version, author)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "policy %q rolled back to version %d content, now at version %d\n",
		restored.Name, version, restored.Version)
	return 0
}
