package config

import (
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Test is a compose-style health check command. A plain string in YAML is
// shorthand for ["CMD-SHELL", "<string>"].
type Test []string

func (t *Test) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*t = nil
			return nil
		}
		*t = Test{"CMD-SHELL", value.Value}
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := value.Decode(&parts); err != nil {
			return errors.Wrap(err, "decode healthcheck test")
		}
		*t = parts
		return nil
	default:
		return errors.Errorf("line %d: healthcheck test must be a string or a list", value.Line)
	}
}

type Condition string

const (
	ConditionStarted Condition = "service_started"
	ConditionHealthy Condition = "service_healthy"
)

type Dependency struct {
	Condition Condition `yaml:"condition,omitempty"`
}

// DependsOn maps a dependency name to its start condition. The YAML short
// form (a list of names) means service_started for every entry.
type DependsOn map[string]Dependency

func (d *DependsOn) UnmarshalYAML(value *yaml.Node) error {
	out := DependsOn{}
	switch value.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return errors.Wrap(err, "decode depends_on")
		}
		for _, n := range names {
			out[n] = Dependency{Condition: ConditionStarted}
		}
	case yaml.MappingNode:
		var m map[string]Dependency
		if err := value.Decode(&m); err != nil {
			return errors.Wrap(err, "decode depends_on")
		}
		for n, dep := range m {
			if dep.Condition == "" {
				dep.Condition = ConditionStarted
			}
			out[n] = dep
		}
	default:
		return errors.Errorf("line %d: depends_on must be a list or a map", value.Line)
	}
	*d = out
	return nil
}

// Names returns the dependency names in lexical order.
func (d DependsOn) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
