package cmds

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-go-golems/devstack/pkg/proc"
	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type serviceStatus struct {
	Name       string        `json:"name"`
	PID        int           `json:"pid"`
	Alive      bool          `json:"alive"`
	Health     *state.Health `json:"health,omitempty"`
	Usage      *proc.Usage   `json:"usage,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Stdout     string        `json:"stdout_log"`
	Stderr     string        `json:"stderr_log"`
	StderrTail []string      `json:"stderr_tail,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	var probe bool
	var tailLines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process liveness and health of supervised services",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			st, err := state.Load(opts.RepoRoot)
			if err != nil {
				return err
			}

			var probed map[string]*state.Health
			if probe {
				_, plan, err := loadPlan(opts)
				if err != nil {
					return err
				}
				probed = map[string]*state.Health{}
				for _, rec := range st.Services {
					svc, ok := plan.Service(rec.Name)
					if !ok || svc.Health == nil {
						continue
					}
					probed[rec.Name] = probeOnce(cmd.Context(), rec.Name, svc.Health, opts.Timeout)
				}
			}

			services := make([]serviceStatus, 0, len(st.Services))
			for _, rec := range st.Services {
				s := serviceStatus{
					Name:      rec.Name,
					PID:       rec.PID,
					Alive:     state.ProcessAlive(rec.PID),
					Health:    rec.Health,
					StartedAt: rec.StartedAt,
					Stdout:    rec.StdoutLog,
					Stderr:    rec.StderrLog,
				}
				if h, ok := probed[rec.Name]; ok {
					s.Health = h
				}
				if s.Alive {
					if u, err := proc.ReadUsage("", rec.PID); err == nil {
						s.Usage = &u
					}
				} else if tailLines > 0 {
					if lines, err := state.TailLines(rec.StderrLog, tailLines, 2<<20); err == nil {
						s.StderrTail = lines
					}
				}
				services = append(services, s)
			}

			if asJSON {
				b, err := json.MarshalIndent(map[string]any{"project": st.Project, "services": services}, "", "  ")
				if err != nil {
					return errors.Wrap(err, "marshal status")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}

			table := newTable(cmd.OutOrStdout(), "service", "pid", "alive", "health", "streak", "mem", "uptime")
			for _, s := range services {
				healthCol, streak := "-", "-"
				if s.Health != nil {
					healthCol = s.Health.Status
					streak = strconv.Itoa(s.Health.FailingStreak)
				}
				mem, uptime := "-", "-"
				if s.Usage != nil {
					mem = fmt.Sprintf("%dMB", s.Usage.MemoryMB())
				}
				if s.Alive && !s.StartedAt.IsZero() {
					uptime = time.Since(s.StartedAt).Truncate(time.Second).String()
				}
				table.Append([]string{s.Name, strconv.Itoa(s.PID), strconv.FormatBool(s.Alive), healthCol, streak, mem, uptime})
			}
			table.Render()

			for _, s := range services {
				if s.Alive || len(s.StderrTail) == 0 {
					continue
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%s exited; last stderr lines:\n", s.Name)
				for _, line := range s.StderrTail {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  "+line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")
	cmd.Flags().BoolVar(&probe, "probe", false, "Run every health check once instead of showing the last recorded result")
	cmd.Flags().IntVar(&tailLines, "tail-lines", 10, "How many stderr lines to show for dead services")
	return cmd
}
