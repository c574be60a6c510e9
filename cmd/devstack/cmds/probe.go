package cmds

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/go-go-golems/devstack/pkg/health"
	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "probe [service...]",
		Short: "Run health checks against services (all services with a health check by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			_, plan, err := loadPlan(opts)
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				for _, svc := range plan.Services {
					if svc.Health != nil {
						names = append(names, svc.Name)
					}
				}
			}

			table := newTable(cmd.OutOrStdout(), "service", "type", "health", "output")
			var failed []string
			for _, name := range names {
				svc, ok := plan.Service(name)
				if !ok {
					return errors.Errorf("unknown service %q", name)
				}
				if svc.Health == nil {
					return errors.Errorf("service %q has no health check", name)
				}
				var res *state.Health
				if wait {
					res = probeUntilSettled(cmd.Context(), name, svc.Health, opts.Timeout)
				} else {
					res = probeOnce(cmd.Context(), name, svc.Health, opts.Timeout)
				}
				if res.Status != string(health.StatusHealthy) {
					failed = append(failed, name)
				}
				table.Append([]string{name, svc.Health.Type, res.Status, orDash(firstLine(res.Output))})
			}
			table.Render()

			if len(failed) > 0 {
				return errors.Errorf("unhealthy: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Keep probing at the configured interval until healthy, out of retries or --timeout")
	return cmd
}

// probeOnce runs a single health check. The result has no retry history, so
// it is reported as healthy or unhealthy directly.
func probeOnce(ctx context.Context, name string, h *engine.HealthCheck, timeout time.Duration) *state.Health {
	res := &state.Health{CheckedAt: time.Now()}
	p, err := health.NewProbe(h)
	if err != nil {
		res.Status = string(health.StatusUnhealthy)
		res.Output = err.Error()
		return res
	}
	if c, ok := p.(interface{ Close() error }); ok {
		defer func() { _ = c.Close() }()
	}
	if h.Timeout > 0 && h.Timeout < timeout {
		timeout = h.Timeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := p.Check(pctx)
	res.Output = out
	if err != nil {
		res.Status = string(health.StatusUnhealthy)
		res.FailingStreak = 1
		if res.Output == "" {
			res.Output = err.Error()
		}
		log.Debug().Err(err).Str("service", name).Msg("probe failed")
		return res
	}
	res.Status = string(health.StatusHealthy)
	return res
}

// probeUntilSettled runs the full retry policy of h, bounded by timeout.
func probeUntilSettled(ctx context.Context, name string, h *engine.HealthCheck, timeout time.Duration) *state.Health {
	p, err := health.NewProbe(h)
	if err != nil {
		return &state.Health{Status: string(health.StatusUnhealthy), Output: err.Error(), CheckedAt: time.Now()}
	}
	m := health.NewMonitor(name, p, health.OptionsFor(h))
	defer func() { _ = m.Close() }()

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	m.Start(wctx)
	if err := health.WaitHealthy(wctx, m); err != nil {
		log.Debug().Err(err).Str("service", name).Msg("wait for health")
	}
	res := m.Status()
	out := &state.Health{
		Status:        string(res.Status),
		FailingStreak: res.FailingStreak,
		Output:        res.Output,
		CheckedAt:     res.CheckedAt,
	}
	if res.Status == health.StatusStarting {
		out.Output = "still starting after " + timeout.String() + " (streak " + strconv.Itoa(res.FailingStreak) + ")"
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
