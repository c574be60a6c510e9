package boot

import (
	"path/filepath"

	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/pkg/errors"
)

// FromConfig builds the startup sequence from the manifest's boot section.
// Steps run in a fixed order: hosts, toggle, link, exec. Sections that are
// absent are skipped. Relative paths are resolved against app_root.
func FromConfig(b *config.Boot, lookup config.LookupFunc) (*Sequencer, error) {
	if b == nil {
		return nil, errors.New("no boot section in config")
	}
	expand := func(field, v string) (string, error) {
		out, err := config.Interpolate(v, lookup)
		return out, errors.Wrapf(err, "boot %s", field)
	}

	appRoot, err := expand("app_root", b.AppRoot)
	if err != nil {
		return nil, err
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || appRoot == "" {
			return p
		}
		return filepath.Join(appRoot, p)
	}

	seq := &Sequencer{}

	if b.Hosts != nil {
		step := &HostEntry{}
		for _, f := range []struct {
			name string
			in   string
			out  *string
		}{
			{"hosts.alias", b.Hosts.Alias, &step.Alias},
			{"hosts.name", b.Hosts.Name, &step.HostName},
			{"hosts.file", b.Hosts.File, &step.HostsFile},
		} {
			if *f.out, err = expand(f.name, f.in); err != nil {
				return nil, err
			}
		}
		if step.HostName == "" {
			return nil, errors.New("boot hosts.name is required")
		}
		seq.Steps = append(seq.Steps, step)
	}

	if b.Toggle != nil {
		step := &FeatureToggle{Feature: b.Toggle.Name}
		for _, f := range []struct {
			name string
			in   string
			out  *string
		}{
			{"toggle.flag", b.Toggle.Flag, &step.Flag},
			{"toggle.enabled", b.Toggle.Enabled, &step.Enabled},
			{"toggle.disabled", b.Toggle.Disabled, &step.Disabled},
			{"toggle.target", b.Toggle.Target, &step.Target},
		} {
			if *f.out, err = expand(f.name, f.in); err != nil {
				return nil, err
			}
		}
		if step.Enabled == "" || step.Disabled == "" || step.Target == "" {
			return nil, errors.New("boot toggle needs enabled, disabled and target")
		}
		step.Enabled, step.Disabled, step.Target = abs(step.Enabled), abs(step.Disabled), abs(step.Target)
		seq.Steps = append(seq.Steps, step)
	}

	if b.Link != nil {
		usr, err := expand("link.user", b.Link.User)
		if err != nil {
			return nil, err
		}
		if len(b.Link.Command) > 0 {
			argv, err := config.InterpolateSlice(b.Link.Command, lookup)
			if err != nil {
				return nil, errors.Wrap(err, "boot link.command")
			}
			seq.Steps = append(seq.Steps, &RunAs{Label: "link", User: usr, Command: argv, Dir: appRoot})
		} else {
			target, err := expand("link.target", b.Link.Target)
			if err != nil {
				return nil, err
			}
			path, err := expand("link.path", b.Link.Path)
			if err != nil {
				return nil, err
			}
			if target == "" || path == "" {
				return nil, errors.New("boot link needs target and path, or a command")
			}
			seq.Steps = append(seq.Steps, &Link{Target: abs(target), Path: abs(path), User: usr})
		}
	}

	if len(b.Exec) > 0 {
		argv, err := config.InterpolateSlice(b.Exec, lookup)
		if err != nil {
			return nil, errors.Wrap(err, "boot exec")
		}
		seq.Steps = append(seq.Steps, &Handoff{Argv: argv})
	}

	return seq, nil
}
