// Package compose proxies shortcut commands to docker compose.
package compose

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var DefaultBinary = []string{"docker", "compose"}

var builtins = map[string]config.Shortcut{
	"up":      {Help: "Start the stack in the background", Args: []string{"up", "-d"}},
	"down":    {Help: "Stop and remove the stack", Args: []string{"down"}},
	"build":   {Help: "Build service images", Args: []string{"build"}},
	"restart": {Help: "Restart services", Args: []string{"restart"}},
	"ps":      {Help: "List containers", Args: []string{"ps"}},
	"logs":    {Help: "Follow service logs", Args: []string{"logs", "-f"}},
	"shell":   {Help: "Open a shell in the app container", Args: []string{"exec", "app", "sh"}},
}

// Shortcuts returns the built-in shortcuts overlaid with the manifest's.
func Shortcuts(cfg *config.File) map[string]config.Shortcut {
	out := make(map[string]config.Shortcut, len(builtins))
	for k, v := range builtins {
		out[k] = v
	}
	if cfg == nil {
		return out
	}
	for k, v := range cfg.Shortcuts {
		out[k] = v
	}
	return out
}

func ShortcutNames(m map[string]config.Shortcut) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type Runner struct {
	Binary  []string
	Files   []string
	Project string
	Dir     string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func NewRunner(c config.Compose, dir string) *Runner {
	return &Runner{Binary: c.Binary, Files: c.Files, Project: c.Project, Dir: dir}
}

// Argv builds the full compose invocation for args.
func (r *Runner) Argv(args ...string) []string {
	bin := r.Binary
	if len(bin) == 0 {
		bin = DefaultBinary
	}
	argv := append([]string{}, bin...)
	for _, f := range r.Files {
		argv = append(argv, "-f", f)
	}
	if r.Project != "" {
		argv = append(argv, "-p", r.Project)
	}
	return append(argv, args...)
}

// Run executes compose with stdio passed through. A non-zero exit surfaces
// as *exec.ExitError.
func (r *Runner) Run(ctx context.Context, args ...string) error {
	argv := r.Argv(args...)
	log.Debug().Strs("argv", argv).Msg("compose")

	// #nosec G204 -- argv comes from the stack manifest and the command line.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdin = orReader(r.Stdin, os.Stdin)
	cmd.Stdout = orWriter(r.Stdout, os.Stdout)
	cmd.Stderr = orWriter(r.Stderr, os.Stderr)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s", argv[0])
	}
	return nil
}

// RunShortcut appends extra to the shortcut's args and runs it.
func (r *Runner) RunShortcut(ctx context.Context, sc config.Shortcut, extra ...string) error {
	args := append(append([]string{}, sc.Args...), extra...)
	return r.Run(ctx, args...)
}

func orReader(r, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}

func orWriter(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
