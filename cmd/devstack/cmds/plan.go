package cmds

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve the stack manifest into a launch plan without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			_, plan, err := loadPlan(opts)
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}

			table := newTable(cmd.OutOrStdout(), "level", "service", "run", "health", "depends on")
			for i, level := range plan.Levels {
				for _, name := range level {
					svc, _ := plan.Service(name)
					table.Append([]string{
						strconv.Itoa(i),
						name,
						describeRun(svc),
						describeHealth(svc.Health),
						orDash(describeDeps(svc)),
					})
				}
			}
			table.Render()
			log.Debug().Str("project", plan.Project).Int("services", len(plan.Services)).Msg("plan computed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	return cmd
}

func describeRun(svc engine.ServiceSpec) string {
	if len(svc.Command) > 0 {
		return strings.Join(svc.Command, " ")
	}
	return "image " + svc.Image
}

func describeHealth(h *engine.HealthCheck) string {
	if h == nil {
		return "-"
	}
	return fmt.Sprintf("%s every %s x%d", h.Type, h.Interval, h.Retries)
}

func describeDeps(svc engine.ServiceSpec) string {
	names := make([]string, 0, len(svc.DependsOn))
	for name := range svc.DependsOn {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%s)", name, svc.DependsOn[name]))
	}
	return strings.Join(parts, ", ")
}
