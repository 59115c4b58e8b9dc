package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, "studyquest-v1-shell", s.Cache.ShellStore())
	assert.Equal(t, "studyquest-v1-runtime", s.Cache.RuntimeStore())
	assert.Equal(t, []string{"studyquest-v1-shell", "studyquest-v1-runtime"}, s.Cache.CurrentStores())
	assert.Equal(t, 10*time.Second, s.Server.ShutdownTimeout.Std())
	assert.Contains(t, s.Routes.APIGroups, "leaderboard")
	assert.Equal(t, "/api/quiz/submit", s.Queue.Kinds["quiz-submission"].Path)
	assert.False(t, s.MQTT.Enabled)
	assert.Equal(t, "offline-engine", s.MQTT.TopicPrefix)
}

func TestStoreName_NoPrefix(t *testing.T) {
	t.Parallel()

	c := CacheSettings{Version: "v2", ShellName: "shell", RuntimeName: "runtime"}
	assert.Equal(t, []string{"v2-shell", "v2-runtime"}, c.CurrentStores())
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
cache:
  version: v7
  backend: sqlite
shell:
  resources: ["/", "/index.html"]
push:
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v7", s.Cache.Version)
	assert.Equal(t, CacheBackendSQLite, s.Cache.Backend)
	assert.Equal(t, []string{"/", "/index.html"}, s.Shell.Resources)
	assert.Equal(t, Duration(5*time.Second), s.Push.Timeout)
	assert.Same(t, s, GetSettings())
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))
	t.Setenv("OFFLINE_ENGINE_CACHE_VERSION", "v9")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "v9", s.Cache.Version)
	assert.Equal(t, "warn", s.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty version", func(s *Settings) { s.Cache.Version = "" }},
		{"same store names", func(s *Settings) { s.Cache.RuntimeName = s.Cache.ShellName }},
		{"unknown backend", func(s *Settings) { s.Cache.Backend = "redis" }},
		{"unknown driver", func(s *Settings) { s.Queue.Driver = "postgres" }},
		{"mysql without dsn", func(s *Settings) { s.Queue.Driver = QueueDriverMySQL; s.Queue.DSN = "" }},
		{"no app shell", func(s *Settings) { s.Shell.AppShell = "" }},
		{"template without param", func(s *Settings) { s.Routes.SPATemplates = []string{"/quiz/static"} }},
		{"queue kind without path", func(s *Settings) { s.Queue.Kinds = map[string]QueueKind{"x": {Method: "POST"}} }},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true }},
		{"mqtt qos out of range", func(s *Settings) { s.MQTT.Enabled = true; s.MQTT.Broker = "tcp://localhost:1883"; s.MQTT.QoS = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Default()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}
