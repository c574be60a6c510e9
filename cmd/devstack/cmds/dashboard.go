package cmds

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/devstack/pkg/tui"
	"github.com/spf13/cobra"
)

func newDashboardCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live view of service liveness, health and stderr",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			p := tea.NewProgram(
				tui.NewModel(opts.RepoRoot, interval),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "How often to re-read state")
	return cmd
}
