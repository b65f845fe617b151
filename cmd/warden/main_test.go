package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"warden"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func useTempDB(t *testing.T) {
	t.Helper()
	t.Setenv("GOVERNANCE_DB_PATH", filepath.Join(t.TempDir(), "warden.db"))
	t.Setenv("GOVERNANCE_POSTGRES_DSN", "")
	t.Setenv("GOVERNANCE_TENANT_ID", "")
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	code, _, stderr := runCLI(t)
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "Usage: warden")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "unknown command")
}

func TestRun_Help(t *testing.T) {
	code, stdout, _ := runCLI(t, "help")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "GOVERNANCE_DB_PATH")
}

func TestMigrate(t *testing.T) {
	useTempDB(t)
	code, stdout, _ := runCLI(t, "migrate")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "schema up to date")
}

func TestPolicyLifecycle(t *testing.T) {
	useTempDB(t)
	policyFile := writeTempFile(t, "policy.json", `{
		"name": "readonly",
		"rules": [
			{"tool": "read_file", "effect": "allow"},
			{"tool": "*", "effect": "deny", "reason": "default deny"}
		]
	}`)

	code, stdout, _ := runCLI(t, "policy", "set", "--file", policyFile, "--author", "ops")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `policy "readonly" stored at version 1`)

	code, stdout, _ = runCLI(t, "policy", "list")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "readonly\tv1\t2 rules")

	code, stdout, _ = runCLI(t, "policy", "get", "readonly")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"name": "readonly"`)

	code, _, _ = runCLI(t, "policy", "set", "--file", policyFile)
	require.Equal(t, 0, code)

	code, stdout, _ = runCLI(t, "policy", "history", "readonly")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"version": 1`)

	code, stdout, _ = runCLI(t, "policy", "rollback", "--name", "readonly", "--version", "1")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "now at version 3")

	code, stdout, _ = runCLI(t, "policy", "delete", "readonly")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "deleted")
}

func TestEvaluate_ExitCodes(t *testing.T) {
	useTempDB(t)
	policyFile := writeTempFile(t, "policy.json", `{
		"name": "guard",
		"rules": [
			{"tool": "transfer_funds", "effect": "deny", "reason": "manual only"},
			{"tool": "*", "effect": "allow"}
		]
	}`)
	code, _, _ := runCLI(t, "policy", "set", "--file", policyFile)
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "evaluate", "--agent", "a1", "--tool", "search",
		"--params", `{"q": "weather"}`)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"allowed": true`)

	code, stdout, _ = runCLI(t, "evaluate", "--agent", "a1", "--tool", "transfer_funds")
	require.Equal(t, 3, code)
	require.Contains(t, stdout, `"allowed": false`)

	code, _, stderr := runCLI(t, "evaluate", "--tool", "search")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "--agent and --tool are required")
}

func TestAuditQueryAndVerify(t *testing.T) {
	useTempDB(t)
	code, _, _ := runCLI(t, "evaluate", "--agent", "a1", "--tool", "search")
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "audit", "query", "--agent", "a1")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"total": 1`)

	code, stdout, _ = runCLI(t, "audit", "verify")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `"valid": true`)
}

func TestAgentLifecycle(t *testing.T) {
	useTempDB(t)
	agentFile := writeTempFile(t, "agent.yaml", `
agentId: billing-bot
name: Billing Bot
allowedTools: [search]
`)

	code, stdout, _ := runCLI(t, "agent", "register", "--file", agentFile)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, `agent "billing-bot" registered`)

	code, stdout, _ = runCLI(t, "agent", "list")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "billing-bot")

	code, stdout, _ = runCLI(t, "agent", "status", "--agent", "billing-bot", "--set", "running")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "now running")

	code, _, _ = runCLI(t, "agent", "delete", "billing-bot")
	require.Equal(t, 0, code)
}

func TestToolsImport(t *testing.T) {
	useTempDB(t)
	agentFile := writeTempFile(t, "agent.json", `{
		"agentId": "bot", "name": "Bot", "allowedTools": ["shell"]
	}`)
	code, _, _ := runCLI(t, "agent", "register", "--file", agentFile)
	require.Equal(t, 0, code)

	manifest := writeTempFile(t, "manifest.json", `{
		"tools": [
			{"name": "search", "description": "Web search"},
			{"name": ""},
			{"name": "shell"}
		]
	}`)
	code, stdout, _ := runCLI(t, "tools", "import", "--manifest", manifest, "--agent", "bot")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "imported 2 tool definitions")
	require.Contains(t, stdout, `agent "bot" now allows 2 tools`)
}
