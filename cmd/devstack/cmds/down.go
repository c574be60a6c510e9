package cmds

import (
	"fmt"
	"os"

	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/spf13/cobra"
)

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop every service in reverse start order and remove state",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(state.StatePath(opts.RepoRoot)); os.IsNotExist(err) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nothing to stop")
				return nil
			}
			if err := stopFromState(cmd.Context(), opts); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
