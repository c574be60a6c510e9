package cmds

import (
	"io"
	"strings"

	"github.com/go-go-golems/devstack/pkg/compose"
	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newShortcutCmd exposes every shortcut, including those shadowed by a
// built-in command such as up or logs.
func newShortcutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "x [shortcut] [-- args...]",
		Short: "Run a docker compose shortcut; lists shortcuts when called without one",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(opts.Config)
			if err != nil {
				return err
			}
			shortcuts := compose.Shortcuts(cfg)

			if len(args) == 0 {
				table := newTable(cmd.OutOrStdout(), "shortcut", "runs", "help")
				runner := compose.NewRunner(cfg.Compose, opts.RepoRoot)
				for _, name := range compose.ShortcutNames(shortcuts) {
					sc := shortcuts[name]
					table.Append([]string{name, strings.Join(runner.Argv(sc.Args...), " "), orDash(sc.Help)})
				}
				table.Render()
				return nil
			}

			sc, ok := shortcuts[args[0]]
			if !ok {
				return errors.Errorf("unknown shortcut %q", args[0])
			}
			return runShortcut(cmd, opts, cfg, sc, args[1:])
		},
	}
}

// AddShortcutCommands registers every shortcut that does not collide with a
// built-in command as a top-level command. args is the raw process argv.
func AddShortcutCommands(root *cobra.Command, args []string) error {
	repoRoot, cfgPath, positionals, err := parseRepoArgs(args)
	if err != nil {
		return err
	}
	if len(positionals) == 0 {
		return nil
	}
	if positionals[0] != "completion" && positionals[0] != "help" && rootHasCommand(root, positionals[0]) {
		return nil
	}

	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		log.Warn().Err(err).Str("config", cfgPath).Msg("failed to load config for shortcut discovery")
		return nil
	}
	log.Debug().Str("repo_root", repoRoot).Msg("registering shortcuts")

	shortcuts := compose.Shortcuts(cfg)
	for _, name := range compose.ShortcutNames(shortcuts) {
		if rootHasCommand(root, name) {
			continue
		}
		sc := shortcuts[name]
		short := sc.Help
		if short == "" {
			short = "docker compose shortcut"
		}
		root.AddCommand(&cobra.Command{
			Use:   name + " [-- args...]",
			Short: short,
			Args:  cobra.ArbitraryArgs,
			RunE: func(cmd *cobra.Command, argv []string) error {
				opts, err := getRootOptions(cmd)
				if err != nil {
					return err
				}
				cfg, err := config.LoadOptional(opts.Config)
				if err != nil {
					return err
				}
				return runShortcut(cmd, opts, cfg, sc, argv)
			},
		})
	}
	return nil
}

func runShortcut(cmd *cobra.Command, opts rootOptions, cfg *config.File, sc config.Shortcut, extra []string) error {
	runner := compose.NewRunner(cfg.Compose, opts.RepoRoot)
	runner.Stdin = cmd.InOrStdin()
	runner.Stdout = cmd.OutOrStdout()
	runner.Stderr = cmd.ErrOrStderr()
	return runner.RunShortcut(cmd.Context(), sc, extra...)
}

func parseRepoArgs(args []string) (string, string, []string, error) {
	fs := pflag.NewFlagSet("devstack-bootstrap", pflag.ContinueOnError)
	fs.ParseErrorsAllowlist.UnknownFlags = true
	fs.SetInterspersed(true)
	fs.SetOutput(io.Discard)
	fs.String("repo-root", "", "")
	fs.String("config", "", "")
	if len(args) > 0 {
		_ = fs.Parse(args[1:])
	}

	repoRoot, _ := fs.GetString("repo-root")
	cfgPath, _ := fs.GetString("config")
	repoRoot, cfgPath, err := resolvePaths(repoRoot, cfgPath)
	if err != nil {
		return "", "", nil, err
	}
	return repoRoot, cfgPath, fs.Args(), nil
}

func rootHasCommand(root *cobra.Command, name string) bool {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return true
		}
		for _, a := range c.Aliases {
			if a == name {
				return true
			}
		}
	}
	return false
}
