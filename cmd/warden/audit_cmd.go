package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/store"
)

func runAudit(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: warden audit <query|verify|export>")
		return 2
	}
	switch args[0] {
	case "query":
		return runAuditQuery(args[1:], stdout, stderr)
	case "verify":
		return runAuditVerify(stdout, stderr)
	case "export":
		return runAuditExport(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown audit subcommand: %s\n", args[0])
		return 2
	}
}

func auditQueryFlags(cmd *flag.FlagSet) *store.AuditQuery {
	q := &store.AuditQuery{}
	cmd.StringVar(&q.AgentID, "agent", "", "Filter by agent id")
	cmd.StringVar(&q.Tool, "tool", "", "Filter by tool name")
	cmd.StringVar(&q.TraceID, "trace", "", "Filter by trace id")
	cmd.StringVar(&q.Since, "since", "", "Inclusive lower timestamp bound (ISO-8601)")
	cmd.StringVar(&q.Until, "until", "", "Exclusive upper timestamp bound (ISO-8601)")
	cmd.StringVar(&q.Search, "search", "", "Free-text match over reason and parameters")
	return q
}

func runAuditQuery(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit query", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	q := auditQueryFlags(cmd)
	var result string
	cmd.StringVar(&result, "result", "", "Filter by result (allowed|denied|error)")
	cmd.IntVar(&q.Limit, "limit", 0, "Page size (default 100, max 1000)")
	cmd.IntVar(&q.Offset, "offset", 0, "Page offset")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	q.Result = contracts.AuditResult(result)

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	page, err := e.QueryAudit(ctx, *q)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, page); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// runAuditVerify exits 0 on an intact chain and 4 on a broken one.
func runAuditVerify(stdout, stderr io.Writer) int {
	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	verification, err := e.VerifyAuditChain(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, verification); err != nil {
		return fail(stderr, err)
	}
	if !verification.Valid {
		return 4
	}
	return 0
}

func runAuditExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	q := auditQueryFlags(cmd)
	var out string
	cmd.StringVar(&out, "out", "", "Output file (defaults to stdout)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	dst := stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fail(stderr, err)
		}
		defer func() { _ = f.Close() }()
		dst = f
	}

	written, err := e.ExportAudit(ctx, *q, dst)
	if err != nil {
		return fail(stderr, err)
	}
	if out != "" {
		fmt.Fprintf(stdout, "exported %d audit events to %s\n", written, out)
	}
	return 0
}
