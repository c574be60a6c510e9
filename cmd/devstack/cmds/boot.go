package cmds

import (
	"fmt"

	"github.com/go-go-golems/devstack/pkg/boot"
	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newBootCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Prepare the app container (hosts entry, feature toggle, storage link) and exec its supervisor",
		Long: "Runs the boot section of the manifest as the container entrypoint. " +
			"Steps run strictly in order and the first failure aborts with a non-zero exit status. " +
			"The last step replaces this process with the configured supervisor.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFromFile(opts.Config)
			if err != nil {
				return err
			}
			if cfg.Boot == nil {
				return errors.Errorf("%s has no boot section", opts.Config)
			}
			seq, err := boot.FromConfig(cfg.Boot, config.OSLookup)
			if err != nil {
				return err
			}
			if dryRun {
				for i, step := range seq.Steps {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, step.Name())
				}
				return nil
			}
			return seq.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the steps without running them")
	return cmd
}
