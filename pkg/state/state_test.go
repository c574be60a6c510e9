package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRemove(t *testing.T) {
	repoRoot, err := os.MkdirTemp("", "devstack-state-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(repoRoot) }()

	_, err = Load(repoRoot)
	require.Error(t, err)

	st := &State{
		Project:   "shop",
		RepoRoot:  repoRoot,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Services: []ServiceRecord{
			{Name: "mysql", PID: 10, Command: []string{"docker", "run"}, HealthType: "cmd", Health: &Health{Status: "healthy"}},
			{Name: "app", PID: 11, DependsOn: []string{"mysql"}},
		},
	}
	require.NoError(t, Save(repoRoot, st))
	require.FileExists(t, filepath.Join(repoRoot, ".devstack", "state.json"))

	loaded, err := Load(repoRoot)
	require.NoError(t, err)
	require.Equal(t, st, loaded)

	rec, ok := loaded.Service("mysql")
	require.True(t, ok)
	require.Equal(t, "healthy", rec.Health.Status)
	_, ok = loaded.Service("redis")
	require.False(t, ok)

	require.NoError(t, Remove(repoRoot))
	require.NoError(t, Remove(repoRoot))
	require.Error(t, Save(repoRoot, nil))
}

func TestSanitizeEnv(t *testing.T) {
	out := SanitizeEnv(map[string]string{
		"DB_PASSWORD":    "secret",
		"APP_KEY":        "base64:abc",
		"DATABASE_DSN":   "mysql://root:secret@db/app",
		"DB_HOST":        "mysql",
		"XDEBUG_ENABLED": "true",
	})
	require.Equal(t, map[string]string{
		"DB_PASSWORD":    "[REDACTED]",
		"APP_KEY":        "[REDACTED]",
		"DATABASE_DSN":   "[REDACTED]",
		"DB_HOST":        "mysql",
		"XDEBUG_ENABLED": "true",
	}, out)
	require.Nil(t, SanitizeEnv(nil))
}

func TestSanitizeArgv(t *testing.T) {
	out := SanitizeArgv([]string{
		"php", "artisan", "serve", "--api-token=abc123", "--port=8000",
		"-e", "MYSQL_ROOT_PASSWORD=hunter2", "-e", "MYSQL_DATABASE=app", "-e", "REDIS_KEY",
	})
	require.Equal(t, []string{
		"php", "artisan", "serve", "--api-token=[REDACTED]", "--port=8000",
		"-e", "MYSQL_ROOT_PASSWORD=[REDACTED]", "-e", "MYSQL_DATABASE=app", "-e", "REDIS_KEY",
	}, out)
	require.Nil(t, SanitizeArgv(nil))
}

func TestTailLines(t *testing.T) {
	dir, err := os.MkdirTemp("", "devstack-tail-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, "svc.stderr.log")
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line\n")
	}
	b.WriteString("last\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	lines, err := TailLines(path, 3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"line", "line", "last"}, lines)

	lines, err = TailLines(path, 2, 12)
	require.NoError(t, err)
	require.Equal(t, []string{"line", "last"}, lines)

	_, err = TailLines(filepath.Join(dir, "missing.log"), 3, 0)
	require.Error(t, err)
}

func TestProcessAlive(t *testing.T) {
	require.True(t, ProcessAlive(os.Getpid()))
	require.False(t, ProcessAlive(0))
	require.False(t, ProcessAlive(-1))
}
