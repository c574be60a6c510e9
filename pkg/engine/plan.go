package engine

import (
	"sort"
	"strings"

	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/pkg/errors"
)

type Options struct {
	Project string
	Lookup  config.LookupFunc
}

// BuildPlan validates the manifest, resolves every service and orders them
// by dependency level. Within a level services are ordered by name.
func BuildPlan(cfg *config.File, opts Options) (LaunchPlan, error) {
	if cfg == nil {
		return LaunchPlan{}, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return LaunchPlan{}, err
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = config.OSLookup
	}
	project := opts.Project
	if cfg.Name != "" {
		project = cfg.Name
	}

	resolved := map[string]ServiceSpec{}
	for _, name := range cfg.ServiceNames() {
		spec, err := resolveService(cfg.Services[name], lookup)
		if err != nil {
			return LaunchPlan{}, errors.Wrapf(err, "service %q", name)
		}
		if spec.Health != nil && spec.Health.Type == config.HealthTypeCmd && spec.RunsImage() {
			spec.Health.Container = ContainerName(project, name)
		}
		resolved[name] = spec
	}

	levels, err := levelize(resolved)
	if err != nil {
		return LaunchPlan{}, err
	}

	plan := LaunchPlan{
		Project:  project,
		Services: make([]ServiceSpec, 0, len(resolved)),
		Levels:   levels,
	}
	for _, level := range levels {
		for _, name := range level {
			plan.Services = append(plan.Services, resolved[name])
		}
	}
	if plan.Levels == nil {
		plan.Levels = [][]string{}
	}
	return plan, nil
}

func levelize(services map[string]ServiceSpec) ([][]string, error) {
	placed := map[string]bool{}
	var levels [][]string
	for len(placed) < len(services) {
		var level []string
		for name, svc := range services {
			if placed[name] {
				continue
			}
			ready := true
			for dep := range svc.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, name)
			}
		}
		if len(level) == 0 {
			var remaining []string
			for name := range services {
				if !placed[name] {
					remaining = append(remaining, name)
				}
			}
			sort.Strings(remaining)
			return nil, errors.Errorf("dependency cycle between services: %s", strings.Join(remaining, ", "))
		}
		sort.Strings(level)
		for _, name := range level {
			placed[name] = true
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func resolveService(svc *config.Service, lookup config.LookupFunc) (ServiceSpec, error) {
	image, err := config.Interpolate(svc.Image, lookup)
	if err != nil {
		return ServiceSpec{}, errors.Wrap(err, "image")
	}
	cwd, err := config.Interpolate(svc.Cwd, lookup)
	if err != nil {
		return ServiceSpec{}, errors.Wrap(err, "cwd")
	}
	command, err := config.InterpolateSlice(svc.Command, lookup)
	if err != nil {
		return ServiceSpec{}, errors.Wrap(err, "command")
	}
	ports, err := config.InterpolateSlice(svc.Ports, lookup)
	if err != nil {
		return ServiceSpec{}, errors.Wrap(err, "ports")
	}
	env, err := config.InterpolateMap(svc.Environment, lookup)
	if err != nil {
		return ServiceSpec{}, errors.Wrap(err, "environment")
	}

	spec := ServiceSpec{
		Name:    svc.Name,
		Image:   image,
		Cwd:     cwd,
		Command: command,
		Ports:   ports,
		Env:     env,
	}
	if len(svc.DependsOn) > 0 {
		spec.DependsOn = map[string]config.Condition{}
		for name, dep := range svc.DependsOn {
			spec.DependsOn[name] = dep.Condition
		}
	}

	if svc.Healthcheck.Enabled() {
		h, err := resolveHealth(svc.Healthcheck, lookup)
		if err != nil {
			return ServiceSpec{}, errors.Wrap(err, "healthcheck")
		}
		spec.Health = h
	}
	return spec, nil
}

func resolveHealth(hc *config.Healthcheck, lookup config.LookupFunc) (*HealthCheck, error) {
	test, err := config.InterpolateSlice(hc.Test, lookup)
	if err != nil {
		return nil, err
	}
	h := &HealthCheck{
		Type:        hc.EffectiveType(),
		Test:        test,
		Interval:    hc.Interval,
		Timeout:     hc.Timeout,
		Retries:     hc.EffectiveRetries(),
		StartPeriod: hc.StartPeriod,
	}
	for _, f := range []struct {
		in  string
		out *string
	}{
		{hc.Address, &h.Address},
		{hc.URL, &h.URL},
		{hc.DSN, &h.DSN},
	} {
		v, err := config.Interpolate(f.in, lookup)
		if err != nil {
			return nil, err
		}
		*f.out = v
	}
	if err := checkTarget(h); err != nil {
		return nil, err
	}
	if h.Interval == 0 {
		h.Interval = config.DefaultHealthInterval
	}
	if h.Timeout == 0 {
		h.Timeout = config.DefaultHealthTimeout
	}
	return h, nil
}

// checkTarget catches probe targets that interpolated to nothing.
func checkTarget(h *HealthCheck) error {
	switch h.Type {
	case config.HealthTypeTCP:
		if h.Address == "" {
			return errors.New("tcp check address is empty")
		}
	case config.HealthTypeHTTP, config.HealthTypeRedis:
		if h.URL == "" && h.Address == "" {
			return errors.Errorf("%s check target is empty", h.Type)
		}
	case config.HealthTypeMySQL, config.HealthTypePostgres:
		if h.DSN == "" {
			return errors.Errorf("%s check dsn is empty", h.Type)
		}
	}
	return nil
}

// Service returns the named service.
func (p LaunchPlan) Service(name string) (ServiceSpec, bool) {
	for _, svc := range p.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceSpec{}, false
}

// Dependents returns the services that declare a dependency on name.
func (p LaunchPlan) Dependents(name string) []string {
	var out []string
	for _, svc := range p.Services {
		if _, ok := svc.DependsOn[name]; ok {
			out = append(out, svc.Name)
		}
	}
	return out
}

// StopOrder is the reverse of the start order.
func (p LaunchPlan) StopOrder() []string {
	out := make([]string, 0, len(p.Services))
	for i := len(p.Services) - 1; i >= 0; i-- {
		out = append(out, p.Services[i].Name)
	}
	return out
}
