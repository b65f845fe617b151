package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warden-labs/warden/pkg/contracts"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GOVERNANCE_DB_PATH", "")
	t.Setenv("GOVERNANCE_POSTGRES_DSN", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GOVERNANCE_APPROVAL_TIMEOUT_SECONDS", "")

	cfg := Load()
	require.Equal(t, "warden.db", cfg.DBPath)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, time.Hour, cfg.ApprovalTimeout)
	require.Empty(t, cfg.PostgresDSN)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GOVERNANCE_DB_PATH", "/tmp/custom.db")
	t.Setenv("GOVERNANCE_POSTGRES_DSN", "postgres://warden@localhost/warden")
	t.Setenv("GOVERNANCE_TENANT_ID", "acme")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("GOVERNANCE_APPROVAL_TIMEOUT_SECONDS", "90")

	cfg := Load()
	require.Equal(t, "/tmp/custom.db", cfg.DBPath)
	require.Equal(t, "postgres://warden@localhost/warden", cfg.PostgresDSN)
	require.Equal(t, "acme", cfg.TenantID)
	require.Equal(t, "DEBUG", cfg.LogLevel)
	require.Equal(t, 90*time.Second, cfg.ApprovalTimeout)
}

func TestLoad_IgnoresBadTimeout(t *testing.T) {
	t.Setenv("GOVERNANCE_APPROVAL_TIMEOUT_SECONDS", "not-a-number")
	require.Equal(t, time.Hour, Load().ApprovalTimeout)

	t.Setenv("GOVERNANCE_APPROVAL_TIMEOUT_SECONDS", "-5")
	require.Equal(t, time.Hour, Load().ApprovalTimeout)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicyFile_JSON(t *testing.T) {
	path := writeFile(t, "policy.json", `{
		"name": "readonly",
		"rules": [
			{"tool": "read_file", "effect": "allow"},
			{"tool": "*", "effect": "deny", "reason": "default deny"}
		]
	}`)

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.Equal(t, "readonly", p.Name)
	require.Len(t, p.Rules, 2)
	require.Equal(t, contracts.EffectDeny, p.Rules[1].Effect)
}

func TestLoadPolicyFile_YAML(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
name: readonly
rules:
  - tool: read_file
    effect: allow
    condition:
      path:
        startsWith: /data/
  - tool: "*"
    effect: deny
`)

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	require.Equal(t, "readonly", p.Name)
	require.Len(t, p.Rules, 2)
	require.Equal(t, "/data/", p.Rules[0].Condition["path"]["startsWith"])
}

func TestLoadAgentFile_YAML(t *testing.T) {
	path := writeFile(t, "agent.yml", `
agentId: billing-bot
name: Billing Bot
allowedTools: [search, read_file]
metadata:
  team: payments
`)

	cfg, err := LoadAgentFile(path)
	require.NoError(t, err)
	require.Equal(t, "billing-bot", cfg.AgentID)
	require.Equal(t, []string{"search", "read_file"}, cfg.AllowedTools)
	require.Equal(t, "payments", cfg.Metadata["team"])
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoadPolicyFile_Malformed(t *testing.T) {
	path := writeFile(t, "broken.json", `{"name": `)
	_, err := LoadPolicyFile(path)
	require.Error(t, err)
}
