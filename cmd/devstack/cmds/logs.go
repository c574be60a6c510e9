package cmds

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var stderr bool
	var tail int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Print or follow the log of a supervised service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				return err
			}
			rec, ok := st.Service(args[0])
			if !ok {
				return errors.Errorf("unknown service %q", args[0])
			}
			path := rec.StdoutLog
			if stderr {
				path = rec.StderrLog
			}

			lines, err := state.TailLines(path, tail, 2<<20)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range lines {
				_, _ = fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			f, err := os.Open(path)
			if err != nil {
				return errors.Wrap(err, "open log")
			}
			defer func() { _ = f.Close() }()
			if _, err := f.Seek(0, io.SeekEnd); err != nil {
				return errors.Wrap(err, "seek log")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			t := time.NewTicker(250 * time.Millisecond)
			defer t.Stop()
			for {
				if _, err := io.Copy(out, f); err != nil {
					return errors.Wrap(err, "read log")
				}
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		},
	}

	cmd.Flags().BoolVar(&stderr, "stderr", false, "Show stderr instead of stdout")
	cmd.Flags().IntVar(&tail, "tail", 50, "Number of lines to print before following")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new output")
	return cmd
}
