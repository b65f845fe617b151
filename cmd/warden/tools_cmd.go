package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/warden-labs/warden/pkg/mcp"
)

func runTools(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "import" {
		_, _ = fmt.Fprintln(stderr, "Usage: warden tools import --manifest <file> [--agent <id>]")
		return 2
	}
	return runToolsImport(args[1:], stdout, stderr)
}

// runToolsImport parses an MCP manifest and, when --agent is given,
// merges the imported tool names into that agent's allowlist.
func runToolsImport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("tools import", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		manifestPath string
		agentID      string
	)
	cmd.StringVar(&manifestPath, "manifest", "", "MCP tool manifest, JSON (REQUIRED)")
	cmd.StringVar(&agentID, "agent", "", "Agent whose allowlist receives the imported tools")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if manifestPath == "" {
		_, _ = fmt.Fprintln(stderr, "tools import: --manifest is required")
		return 2
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = f.Close() }()

	manifest, err := mcp.ParseManifest(f)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "imported %d tool definitions\n", len(manifest.Tools))
	for _, name := range manifest.ToolNames() {
		fmt.Fprintf(stdout, "  %s\n", name)
	}
	if agentID == "" {
		return 0
	}

	ctx := context.Background()
	e, closer, err := openEngine(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	defer closer()

	cfg, err := e.GetAgent(ctx, agentID)
	if err != nil {
		return fail(stderr, err)
	}
	manifest.ApplyTo(cfg)
	if _, err := e.RegisterAgent(ctx, cfg); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "agent %q now allows %d tools\n", agentID, len(cfg.AllowedTools))
	return 0
}
