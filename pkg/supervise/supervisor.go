package supervise

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/go-go-golems/devstack/pkg/events"
	"github.com/go-go-golems/devstack/pkg/health"
	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type ProbeFactory func(h *engine.HealthCheck) (health.Probe, error)

type Options struct {
	RepoRoot        string
	ShutdownTimeout time.Duration
	// ReadyTimeout bounds the wait for a single dependency to become
	// healthy. Zero waits until the dependency's retry budget runs out.
	ReadyTimeout time.Duration
	Publisher    message.Publisher
	NewProbe     ProbeFactory
}

type Supervisor struct {
	opts Options

	mu       sync.Mutex
	monitors map[string]*health.Monitor

	monCtx    context.Context
	monCancel context.CancelFunc
}

func New(opts Options) *Supervisor {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 3 * time.Second
	}
	if opts.NewProbe == nil {
		opts.NewProbe = health.NewProbe
	}
	monCtx, monCancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:      opts,
		monitors:  map[string]*health.Monitor{},
		monCtx:    monCtx,
		monCancel: monCancel,
	}
}

// Start launches every service of the plan. A service is started once each
// of its dependencies satisfies its condition: service_started waits for the
// dependency's process, service_healthy waits for its first healthy probe.
// When a dependency turns unhealthy its dependents are never started, every
// started service is stopped and the error is returned.
func (s *Supervisor) Start(ctx context.Context, plan engine.LaunchPlan) (*state.State, error) {
	if s.opts.RepoRoot == "" {
		return nil, errors.New("missing RepoRoot")
	}
	if err := os.MkdirAll(state.LogsDir(s.opts.RepoRoot), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir logs dir")
	}

	started := make(map[string]chan struct{}, len(plan.Services))
	for _, svc := range plan.Services {
		started[svc.Name] = make(chan struct{})
	}

	var recMu sync.Mutex
	records := map[string]state.ServiceRecord{}

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range plan.Services {
		svc := svc
		g.Go(func() error {
			if err := s.waitDependencies(gctx, svc, started); err != nil {
				return err
			}
			s.publish(events.TypeServiceStarting, events.ServiceEvent{Service: svc.Name})
			rec, err := s.startService(plan.Project, svc)
			if err != nil {
				return errors.Wrapf(err, "start %s", svc.Name)
			}
			recMu.Lock()
			records[svc.Name] = rec
			recMu.Unlock()

			if svc.Health != nil {
				if err := s.startMonitor(plan.Project, svc); err != nil {
					return errors.Wrapf(err, "health check for %s", svc.Name)
				}
			}
			close(started[svc.Name])
			s.publish(events.TypeServiceStarted, events.ServiceEvent{Service: svc.Name, PID: rec.PID})
			return nil
		})
	}

	err := g.Wait()

	st := &state.State{
		Project:   plan.Project,
		RepoRoot:  s.opts.RepoRoot,
		CreatedAt: time.Now(),
		Services:  []state.ServiceRecord{},
	}
	for _, svc := range plan.Services {
		if rec, ok := records[svc.Name]; ok {
			st.Services = append(st.Services, rec)
		}
	}

	if err != nil {
		_ = s.Stop(context.Background(), st)
		return nil, err
	}

	s.Snapshot(st)
	var names []string
	for _, rec := range st.Services {
		names = append(names, rec.Name)
	}
	s.publish(events.TypeStackUp, events.StackEvent{Project: plan.Project, Services: names})
	return st, nil
}

func (s *Supervisor) waitDependencies(ctx context.Context, svc engine.ServiceSpec, started map[string]chan struct{}) error {
	deps := make([]string, 0, len(svc.DependsOn))
	for dep := range svc.DependsOn {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	for _, dep := range deps {
		ch, ok := started[dep]
		if !ok {
			return errors.Errorf("service %q depends on unknown service %q", svc.Name, dep)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if svc.DependsOn[dep] != config.ConditionHealthy {
			continue
		}

		m := s.monitor(dep)
		if m == nil {
			return errors.Errorf("service %q waits for %q to be healthy but %q has no health check", svc.Name, dep, dep)
		}
		waitCtx := ctx
		cancel := func() {}
		if s.opts.ReadyTimeout > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, s.opts.ReadyTimeout)
		}
		log.Info().Str("service", svc.Name).Str("dependency", dep).Msg("waiting for dependency to become healthy")
		err := health.WaitHealthy(waitCtx, m)
		cancel()
		if err != nil {
			if errors.Is(err, health.ErrUnhealthy) {
				s.publish(events.TypeServiceBlocked, events.ServiceEvent{Service: svc.Name, Reason: dep + " is unhealthy"})
				return errors.Errorf("dependency %q of %q is unhealthy: %s", dep, svc.Name, m.Status().Output)
			}
			return errors.Wrapf(err, "dependency %q of %q", dep, svc.Name)
		}
	}
	return nil
}

func (s *Supervisor) startMonitor(project string, svc engine.ServiceSpec) error {
	h := svc.Health
	if h.Container == "" && svc.RunsImage() && (h.Type == "" || h.Type == config.HealthTypeCmd) {
		inContainer := *h
		inContainer.Container = engine.ContainerName(project, svc.Name)
		h = &inContainer
	}
	probe, err := s.opts.NewProbe(h)
	if err != nil {
		return err
	}
	m := health.NewMonitor(svc.Name, probe, health.OptionsFor(h))
	s.mu.Lock()
	s.monitors[svc.Name] = m
	s.mu.Unlock()
	m.Start(s.monCtx)
	return nil
}

func (s *Supervisor) monitor(name string) *health.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitors[name]
}

// Snapshot copies the latest health results into st.
func (s *Supervisor) Snapshot(st *state.State) {
	for i := range st.Services {
		m := s.monitor(st.Services[i].Name)
		if m == nil {
			continue
		}
		st.Services[i].Health = ToStateHealth(m.Status())
	}
}

// Watch publishes health transitions until ctx is done. Probes keep running
// for as long as Watch does.
func (s *Supervisor) Watch(ctx context.Context) {
	s.mu.Lock()
	monitors := make([]*health.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *health.Monitor) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case res := <-m.StatusChange():
					s.publish(events.TypeServiceHealth, events.ServiceEvent{
						Service: m.Name(),
						Health:  string(res.Status),
						Output:  res.Output,
					})
				}
			}
		}(m)
	}
	wg.Wait()
}

// Stop terminates services in reverse start order and stops their probes.
func (s *Supervisor) Stop(ctx context.Context, st *state.State) error {
	s.closeMonitors()
	if st == nil {
		return nil
	}
	var lastErr error
	for i := len(st.Services) - 1; i >= 0; i-- {
		svc := st.Services[i]
		if svc.PID <= 0 {
			continue
		}
		if err := terminatePIDGroup(ctx, svc.PID, s.opts.ShutdownTimeout); err != nil {
			log.Warn().Err(err).Str("service", svc.Name).Int("pid", svc.PID).Msg("stop failed")
			lastErr = err
			continue
		}
		log.Info().Str("service", svc.Name).Int("pid", svc.PID).Msg("service stopped")
		s.publish(events.TypeServiceStopped, events.ServiceEvent{Service: svc.Name, PID: svc.PID})
	}
	return lastErr
}

// Detach stops health probing and leaves every service running.
func (s *Supervisor) Detach() {
	s.closeMonitors()
}

func (s *Supervisor) closeMonitors() {
	s.monCancel()
	s.mu.Lock()
	monitors := s.monitors
	s.monitors = map[string]*health.Monitor{}
	s.mu.Unlock()
	for _, m := range monitors {
		_ = m.Close()
	}
}

func (s *Supervisor) publish(typ string, payload any) {
	if err := events.Publish(s.opts.Publisher, typ, payload); err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("publish event")
	}
}

func (s *Supervisor) startService(project string, svc engine.ServiceSpec) (state.ServiceRecord, error) {
	if svc.Name == "" {
		return state.ServiceRecord{}, errors.New("service name is required")
	}
	argv, err := LaunchArgv(project, svc)
	if err != nil {
		return state.ServiceRecord{}, err
	}

	cwd := s.opts.RepoRoot
	if svc.Cwd != "" {
		if filepath.IsAbs(svc.Cwd) {
			cwd = svc.Cwd
		} else {
			cwd = filepath.Join(s.opts.RepoRoot, svc.Cwd)
		}
	}

	ts := time.Now().Format("20060102-150405")
	stdoutPath := filepath.Join(state.LogsDir(s.opts.RepoRoot), svc.Name+"-"+ts+".stdout.log")
	stderrPath := filepath.Join(state.LogsDir(s.opts.RepoRoot), svc.Name+"-"+ts+".stderr.log")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return state.ServiceRecord{}, errors.Wrap(err, "open stdout log")
	}
	defer func() { _ = stdoutFile.Close() }()

	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return state.ServiceRecord{}, errors.Wrap(err, "open stderr log")
	}
	defer func() { _ = stderrFile.Close() }()

	// Services outlive the command that started them, so no context here.
	// #nosec G204 -- command is configured in the stack manifest.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), svc.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return state.ServiceRecord{}, errors.Wrap(err, "start service")
	}

	pid := cmd.Process.Pid
	startedAt := time.Now()
	log.Info().Str("service", svc.Name).Int("pid", pid).Msg("service started")
	go func() { _ = cmd.Wait() }()

	deps := make([]string, 0, len(svc.DependsOn))
	for dep := range svc.DependsOn {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	rec := state.ServiceRecord{
		Name:      svc.Name,
		PID:       pid,
		Image:     svc.Image,
		Command:   state.SanitizeArgv(argv),
		Cwd:       cwd,
		Ports:     svc.Ports,
		DependsOn: deps,
		Env:       state.SanitizeEnv(svc.Env),
		StdoutLog: stdoutPath,
		StderrLog: stderrPath,
		StartedAt: startedAt,
	}
	if svc.Health != nil {
		rec.HealthType = svc.Health.Type
	}
	return rec, nil
}

// LaunchArgv returns the command line for a service: its own command when
// set, otherwise a foreground `docker run` of its image. Environment values
// are not part of the docker argv; `-e NAME` makes docker copy them from
// the launching process.
func LaunchArgv(project string, svc engine.ServiceSpec) ([]string, error) {
	if len(svc.Command) > 0 {
		return append([]string{}, svc.Command...), nil
	}
	if svc.Image == "" {
		return nil, errors.Errorf("service %q missing command and image", svc.Name)
	}
	argv := []string{"docker", "run", "--rm", "--name", engine.ContainerName(project, svc.Name)}
	for _, p := range svc.Ports {
		argv = append(argv, "-p", p)
	}
	keys := make([]string, 0, len(svc.Env))
	for k := range svc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", k)
	}
	return append(argv, svc.Image), nil
}

// ToStateHealth converts a probe result into its persisted form.
func ToStateHealth(r health.Result) *state.Health {
	return &state.Health{
		Status:        string(r.Status),
		FailingStreak: r.FailingStreak,
		Output:        r.Output,
		CheckedAt:     r.CheckedAt,
	}
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
