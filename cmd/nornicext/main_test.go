package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicext/pkg/config"
	"github.com/orneryd/nornicext/pkg/storage"
)

const testConfig = `
runtime:
  enabled: true
  modules:
    - id: audit
      type: changelog
    - id: degrees
      type: relcount
metrics:
  enabled: true
  namespace: nornicext
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nornicext.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "NornicExt v"+version)
}

func TestConfigCommand(t *testing.T) {
	t.Setenv("NORNICEXT_LOG_LEVEL", "")
	out, err := execute(t, "config", "--config", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "audit:changelog")
	assert.Contains(t, out, "degrees:relcount")
}

func TestConfigCommandRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "config", "--config", writeConfig(t, "storage:\n  engine: postgres\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}

func TestReplay(t *testing.T) {
	t.Setenv("NORNICEXT_RUNTIME_ENABLED", "")
	t.Setenv("NORNICEXT_METRICS_ENABLED", "")
	t.Setenv("NORNICEXT_METRICS_NAMESPACE", "")
	t.Setenv("NORNICEXT_STORAGE_ENGINE", "")

	out, err := execute(t, "replay",
		"--config", writeConfig(t, testConfig),
		"--script", "../../pkg/replay/testdata/people.yaml",
		"--metrics")
	require.NoError(t, err)

	for _, want := range []string{
		"committed    people",
		"rolled_back  abandoned",
		"[audit] 3 committed, 0 rolled back",
		"  Deleted node (:Employee:Person {name: Bob})",
		"graph: 1 nodes, 0 relationships",
		"nornicext_runtime_transactions_total 3",
		"nornicext_runtime_module_outcomes_total{module=audit,outcome=ok} 3",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "_ext_degree", "internal properties stay out of the changelog")
}

func TestReplaySeededScript(t *testing.T) {
	t.Setenv("NORNICEXT_RUNTIME_ENABLED", "")
	t.Setenv("NORNICEXT_STORAGE_ENGINE", "")

	out, err := execute(t, "replay",
		"--config", writeConfig(t, testConfig),
		"--script", "../../pkg/replay/testdata/seeded.yaml")
	require.NoError(t, err)

	assert.Contains(t, out, "reinitializing degrees:")
	assert.Contains(t, out, "no stored count")
	assert.Contains(t, out, "[audit] 2 committed, 0 rolled back")
	assert.Contains(t, out, "graph: 3 nodes, 1 relationships")
}

func TestReplayRequiresScript(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script")
}

func TestBuildRuntime(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := config.LoadDefaults()
		cfg.Runtime.Enabled = false
		mods, err := buildRuntime(cfg, prometheus.NewRegistry(), storage.NewTransactionManager(storage.NewMemoryEngine()))
		require.NoError(t, err)
		assert.Nil(t, mods.runtime)
	})

	t.Run("modules in order", func(t *testing.T) {
		cfg := config.LoadDefaults()
		cfg.Runtime.Modules = []config.ModuleConfig{
			{ID: "degrees", Type: config.ModuleTypeRelCount},
			{ID: "audit", Type: config.ModuleTypeChangelog},
		}
		mods, err := buildRuntime(cfg, prometheus.NewRegistry(), storage.NewTransactionManager(storage.NewMemoryEngine()))
		require.NoError(t, err)
		assert.Equal(t, []string{"degrees", "audit"}, mods.runtime.Modules())
		assert.Len(t, mods.changelogs, 1)
		assert.Len(t, mods.relcounts, 1)
	})

	t.Run("unknown type", func(t *testing.T) {
		cfg := config.LoadDefaults()
		cfg.Runtime.Modules = []config.ModuleConfig{{ID: "x", Type: "uuid"}}
		_, err := buildRuntime(cfg, prometheus.NewRegistry(), storage.NewTransactionManager(storage.NewMemoryEngine()))
		assert.ErrorContains(t, err, "unknown type")
	})
}
