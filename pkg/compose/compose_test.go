package compose

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"testing"

	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestRunner_Argv(t *testing.T) {
	r := NewRunner(config.Compose{Files: []string{"docker-compose.yml", "docker-compose.dev.yml"}, Project: "shop"}, "")
	require.Equal(t, []string{
		"docker", "compose",
		"-f", "docker-compose.yml", "-f", "docker-compose.dev.yml",
		"-p", "shop",
		"logs", "-f", "app",
	}, r.Argv("logs", "-f", "app"))

	r = NewRunner(config.Compose{Binary: []string{"docker-compose"}}, "")
	require.Equal(t, []string{"docker-compose", "ps"}, r.Argv("ps"))
}

func TestShortcuts_ManifestOverridesBuiltins(t *testing.T) {
	cfg := &config.File{Shortcuts: map[string]config.Shortcut{
		"shell":   {Args: []string{"exec", "php", "bash"}},
		"artisan": {Help: "Run artisan", Args: []string{"exec", "app", "php", "artisan"}},
	}}
	m := Shortcuts(cfg)
	require.Equal(t, []string{"exec", "php", "bash"}, m["shell"].Args)
	require.Equal(t, []string{"up", "-d"}, m["up"].Args)
	require.Contains(t, ShortcutNames(m), "artisan")

	require.Equal(t, []string{"logs", "-f"}, Shortcuts(nil)["logs"].Args)
	require.Equal(t, []string{"build", "down", "logs", "ps", "restart", "shell", "up"}, ShortcutNames(Shortcuts(nil)))
}

func TestRunner_RunShortcutPassesArgsAndExitCode(t *testing.T) {
	var out bytes.Buffer
	r := &Runner{Binary: []string{"echo"}, Project: "shop", Stdout: &out}
	require.NoError(t, r.RunShortcut(context.Background(), config.Shortcut{Args: []string{"exec", "app", "php", "artisan"}}, "migrate"))
	require.Equal(t, "-p shop exec app php artisan migrate\n", out.String())

	r = &Runner{Binary: []string{"sh", "-c", "exit 4", "sh"}}
	err := r.Run(context.Background(), "ps")
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.True(t, stderrors.As(err, &exitErr))
	require.Equal(t, 4, exitErr.ExitCode())
}
