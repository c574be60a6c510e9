package main

import (
	"os"

	"github.com/go-go-golems/devstack/cmd/devstack/cmds"
	"github.com/go-go-golems/devstack/pkg/boot"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "devstack",
	Short:   "devstack starts a web app stack in dependency order, gated on service health",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
	SilenceUsage: true,
}

func main() {
	cobra.CheckErr(logging.AddLoggingLayerToRootCommand(rootCmd, "devstack"))
	cmds.AddRootFlags(rootCmd)
	cobra.CheckErr(cmds.AddCommands(rootCmd))
	cobra.CheckErr(cmds.AddShortcutCommands(rootCmd, os.Args))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(boot.ExitCode(err))
	}
}
