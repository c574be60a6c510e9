package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/devstack/pkg/events"
	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/go-go-golems/devstack/pkg/supervise"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUpCmd() *cobra.Command {
	var force bool
	var watch bool
	var readyTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start every service in dependency order, waiting on health where required",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if _, err := os.Stat(state.StatePath(opts.RepoRoot)); err == nil {
				if !force {
					return errors.New("state exists; run devstack down first or use --force")
				}
				log.Info().Msg("existing state found; stopping first (--force)")
				if err := stopFromState(cmd.Context(), opts); err != nil {
					return err
				}
			}

			_, plan, err := loadPlan(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus, err := events.NewBus()
			if err != nil {
				return err
			}
			bus.Handle("log-stack-events", logStackEvent)
			busCtx, cancelBus := context.WithCancel(context.Background())
			defer func() {
				cancelBus()
				_ = bus.Close()
			}()
			if err := bus.Start(busCtx); err != nil {
				return err
			}

			sup := supervise.New(supervise.Options{
				RepoRoot:        opts.RepoRoot,
				ShutdownTimeout: opts.Timeout,
				ReadyTimeout:    readyTimeout,
				Publisher:       bus.Publisher(),
			})
			st, err := sup.Start(ctx, plan)
			if err != nil {
				return err
			}
			if err := state.Save(opts.RepoRoot, st); err != nil {
				_ = sup.Stop(context.Background(), st)
				return err
			}

			log.Info().Str("project", st.Project).Int("services", len(st.Services)).Msg("up complete")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			if !watch {
				sup.Detach()
				return nil
			}

			go sup.Watch(ctx)
			t := time.NewTicker(2 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					log.Info().Msg("stopping stack")
					stopCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
					defer cancel()
					stopErr := sup.Stop(stopCtx, st)
					if err := state.Remove(opts.RepoRoot); err != nil {
						return err
					}
					return stopErr
				case <-t.C:
					sup.Snapshot(st)
					if err := state.Save(opts.RepoRoot, st); err != nil {
						log.Warn().Err(err).Msg("save state")
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Stop existing state before starting")
	cmd.Flags().BoolVar(&watch, "watch", false, "Stay in the foreground, keep probing and stop the stack on interrupt")
	cmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 0, "Upper bound on waiting for one dependency to become healthy (0 waits for its retries to run out)")
	return cmd
}

func logStackEvent(env events.Envelope) error {
	if env.Type == events.TypeStackUp {
		var ev events.StackEvent
		if err := env.Decode(&ev); err == nil {
			log.Info().Str("event", env.Type).Str("project", ev.Project).Strs("services", ev.Services).Msg("stack event")
		}
		return nil
	}

	var ev events.ServiceEvent
	if err := env.Decode(&ev); err != nil {
		log.Warn().Err(err).Str("event", env.Type).Msg("undecodable service event")
		return nil
	}
	e := log.Info()
	switch {
	case env.Type == events.TypeServiceBlocked:
		e = log.Warn()
	case env.Type == events.TypeServiceHealth && ev.Health == "unhealthy":
		e = log.Warn()
	case env.Type == events.TypeServiceStarting:
		e = log.Debug()
	}
	e = e.Str("event", env.Type).Str("service", ev.Service)
	if ev.PID > 0 {
		e = e.Int("pid", ev.PID)
	}
	if ev.Health != "" {
		e = e.Str("health", ev.Health)
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	if ev.Output != "" {
		e = e.Str("output", ev.Output)
	}
	e.Msg("service event")
	return nil
}

func stopFromState(ctx context.Context, opts rootOptions) error {
	st, err := state.Load(opts.RepoRoot)
	if err != nil {
		return err
	}
	sup := supervise.New(supervise.Options{RepoRoot: opts.RepoRoot, ShutdownTimeout: opts.Timeout})
	stopCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := sup.Stop(stopCtx, st); err != nil {
		log.Warn().Err(err).Msg("some services did not stop cleanly")
	}
	return state.Remove(opts.RepoRoot)
}
