package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "queue:\n  data_dir: " + filepath.Join(dir, "data") + "\nlog:\n  level: error\ncache:\n  backend: sqlite\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "offline-engine dev")
}

func TestQueueCommandsRequireKind(t *testing.T) {
	_, err := run(t, "queue", "list")
	require.Error(t, err)
	_, err = run(t, "queue", "purge", "a", "b")
	require.Error(t, err)
}

func TestQueueListAndPurge(t *testing.T) {
	path := writeConfig(t)

	out, err := run(t, "--config", path, "queue", "list", "quiz-submission")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "ATTEMPTS")

	out, err = run(t, "--config", path, "queue", "purge", "quiz-submission")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 item(s) from quiz-submission")
}

func TestStoresCommandEmpty(t *testing.T) {
	out, err := run(t, "--config", writeConfig(t), "stores")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "stores")
	require.Error(t, err)
}
