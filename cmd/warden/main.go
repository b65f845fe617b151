// Command warden is the governance engine CLI: policy and agent
// management, decision evaluation, approval handling, and audit log
// inspection against a local SQLite database or a Postgres DSN.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/warden-labs/warden/pkg/config"
	"github.com/warden-labs/warden/pkg/governance"
	"github.com/warden-labs/warden/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "evaluate":
		return runEvaluate(args[2:], stdout, stderr)
	case "policy":
		return runPolicy(args[2:], stdout, stderr)
	case "agent":
		return runAgent(args[2:], stdout, stderr)
	case "approval":
		return runApproval(args[2:], stdout, stderr)
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "tools":
		return runTools(args[2:], stdout, stderr)
	case "migrate":
		return runMigrate(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: warden <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  evaluate   Evaluate one tool call (--agent, --tool, --params)")
	fmt.Fprintln(w, "  policy     Manage policies (set|get|list|delete|history|rollback)")
	fmt.Fprintln(w, "  agent      Manage agents (register|get|list|status|delete)")
	fmt.Fprintln(w, "  approval   Manage approvals (list|resolve)")
	fmt.Fprintln(w, "  audit      Inspect the audit log (query|verify|export)")
	fmt.Fprintln(w, "  tools      Import MCP tool manifests (import)")
	fmt.Fprintln(w, "  migrate    Apply pending schema migrations")
	fmt.Fprintln(w, "  help       Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "The database defaults to ./warden.db; GOVERNANCE_DB_PATH overrides it")
	fmt.Fprintln(w, "and GOVERNANCE_POSTGRES_DSN selects the Postgres backend instead.")
}

// openEngine builds the engine over the configured backend. The caller
// must invoke the returned closer.
func openEngine(ctx context.Context) (*governance.Engine, func(), error) {
	cfg := config.Load()

	var (
		st  store.Store
		err error
	)
	if cfg.PostgresDSN != "" {
		st, err = store.OpenPostgres(ctx, cfg.PostgresDSN)
	} else {
		st, err = store.OpenSQLite(ctx, cfg.DBPath)
	}
	if err != nil {
		return nil, nil, err
	}

	e := governance.New(
		governance.WithStore(st),
		governance.WithApprovalTimeout(cfg.ApprovalTimeout),
	)
	if cfg.TenantID != "" {
		e = e.ForTenant(cfg.TenantID)
	}
	return e, func() { _ = st.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintln(stderr, "Error:", err)
	return 1
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()

	var (
		st  store.Store
		err error
	)
	if cfg.PostgresDSN != "" {
		st, err = store.OpenPostgres(ctx, cfg.PostgresDSN)
	} else {
		st, err = store.OpenSQLite(ctx, cfg.DBPath)
	}
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = st.Close() }()

	// Open already migrates; report the resulting version.
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "schema up to date at version %d\n", version)
	return 0
}
