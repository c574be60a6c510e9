package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFilename = ".devstack.yaml"

type File struct {
	Name      string              `yaml:"name,omitempty"`
	Services  map[string]*Service `yaml:"services"`
	Boot      *Boot               `yaml:"boot,omitempty"`
	Compose   Compose             `yaml:"compose,omitempty"`
	Shortcuts map[string]Shortcut `yaml:"shortcuts,omitempty"`
}

// Service is a single entry of the stack manifest. Name is taken from the map key.
type Service struct {
	Name        string            `yaml:"-"`
	Image       string            `yaml:"image,omitempty"`
	Command     []string          `yaml:"command,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Healthcheck *Healthcheck      `yaml:"healthcheck,omitempty"`
	DependsOn   DependsOn         `yaml:"depends_on,omitempty"`
}

type Healthcheck struct {
	Type        string        `yaml:"type,omitempty"` // "cmd"|"tcp"|"http"|"redis"|"mysql"|"postgres"
	Test        Test          `yaml:"test,omitempty"`
	Address     string        `yaml:"address,omitempty"`
	URL         string        `yaml:"url,omitempty"`
	DSN         string        `yaml:"dsn,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Retries     *int          `yaml:"retries,omitempty"`
	StartPeriod time.Duration `yaml:"start_period,omitempty"`
	Disable     bool          `yaml:"disable,omitempty"`
}

const (
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 30 * time.Second
	DefaultHealthRetries  = 3
)

const (
	HealthTypeCmd      = "cmd"
	HealthTypeTCP      = "tcp"
	HealthTypeHTTP     = "http"
	HealthTypeRedis    = "redis"
	HealthTypeMySQL    = "mysql"
	HealthTypePostgres = "postgres"
)

var healthTypes = map[string]struct{}{
	HealthTypeCmd:      {},
	HealthTypeTCP:      {},
	HealthTypeHTTP:     {},
	HealthTypeRedis:    {},
	HealthTypeMySQL:    {},
	HealthTypePostgres: {},
}

// EffectiveType returns the probe type, defaulting to "cmd".
func (h *Healthcheck) EffectiveType() string {
	if h.Type == "" {
		return HealthTypeCmd
	}
	return h.Type
}

// EffectiveRetries returns the configured retry budget or the default.
func (h *Healthcheck) EffectiveRetries() int {
	if h.Retries == nil {
		return DefaultHealthRetries
	}
	return *h.Retries
}

// Enabled reports whether the health check is active. `disable: true` and
// a `["NONE"]` test both turn it off.
func (h *Healthcheck) Enabled() bool {
	if h == nil || h.Disable {
		return false
	}
	if len(h.Test) > 0 && h.Test[0] == "NONE" {
		return false
	}
	return true
}

// Compose configures the shortcut commands proxying to docker compose.
type Compose struct {
	Binary  []string `yaml:"binary,omitempty"`
	Files   []string `yaml:"files,omitempty"`
	Project string   `yaml:"project,omitempty"`
}

type Shortcut struct {
	Help string   `yaml:"help,omitempty"`
	Args []string `yaml:"args"`
}

// Boot configures the container startup sequence.
type Boot struct {
	AppRoot string      `yaml:"app_root,omitempty"`
	Hosts   *BootHosts  `yaml:"hosts,omitempty"`
	Toggle  *BootToggle `yaml:"toggle,omitempty"`
	Link    *BootLink   `yaml:"link,omitempty"`
	Exec    []string    `yaml:"exec,omitempty"`
}

type BootHosts struct {
	Alias string `yaml:"alias,omitempty"`
	Name  string `yaml:"name"`
	File  string `yaml:"file,omitempty"`
}

type BootToggle struct {
	Name     string `yaml:"name,omitempty"`
	Flag     string `yaml:"flag"`
	Enabled  string `yaml:"enabled"`
	Disabled string `yaml:"disabled"`
	Target   string `yaml:"target"`
}

type BootLink struct {
	Target  string   `yaml:"target,omitempty"`
	Path    string   `yaml:"path,omitempty"`
	User    string   `yaml:"user,omitempty"`
	Command []string `yaml:"command,omitempty"`
}

func DefaultPath(repoRoot string) string {
	return filepath.Join(repoRoot, DefaultConfigFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(b)
}

func Parse(b []byte) (*File, error) {
	var cfg File
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	for name, svc := range cfg.Services {
		if svc == nil {
			svc = &Service{}
			cfg.Services[name] = svc
		}
		svc.Name = name
	}
	return &cfg, nil
}

func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat config")
	}
	return LoadFromFile(path)
}

// ServiceNames returns the service names in lexical order.
func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the manifest for structural errors. It does not detect
// dependency cycles; the launch plan does.
func (f *File) Validate() error {
	for _, name := range f.ServiceNames() {
		svc := f.Services[name]
		if name == "" {
			return errors.New("service name is required")
		}
		if len(svc.Command) == 0 && svc.Image == "" {
			return errors.Errorf("service %q needs a command or an image", name)
		}
		if err := svc.Healthcheck.validate(); err != nil {
			return errors.Wrapf(err, "service %q healthcheck", name)
		}
		for _, dep := range svc.DependsOn.Names() {
			if dep == name {
				return errors.Errorf("service %q depends on itself", name)
			}
			if _, ok := f.Services[dep]; !ok {
				return errors.Errorf("service %q depends on unknown service %q", name, dep)
			}
			cond := svc.DependsOn[dep].Condition
			if cond != ConditionStarted && cond != ConditionHealthy {
				return errors.Errorf("service %q: unsupported condition %q for %q", name, cond, dep)
			}
			if cond == ConditionHealthy && !f.Services[dep].Healthcheck.Enabled() {
				return errors.Errorf("service %q waits for %q to be healthy but %q has no healthcheck", name, dep, dep)
			}
		}
	}
	for name, sc := range f.Shortcuts {
		if len(sc.Args) == 0 {
			return errors.Errorf("shortcut %q has no args", name)
		}
	}
	return nil
}

func (h *Healthcheck) validate() error {
	if !h.Enabled() {
		return nil
	}
	if _, ok := healthTypes[h.EffectiveType()]; !ok {
		return errors.Errorf("unsupported type %q", h.Type)
	}
	if h.EffectiveRetries() < 0 {
		return errors.New("retries must be >= 0")
	}
	if h.Interval < 0 || h.Timeout < 0 || h.StartPeriod < 0 {
		return errors.New("durations must be >= 0")
	}
	switch h.EffectiveType() {
	case HealthTypeCmd:
		if len(h.Test) == 0 {
			return errors.New("cmd check missing test")
		}
		if h.Test[0] != "CMD" && h.Test[0] != "CMD-SHELL" {
			return errors.Errorf("test must start with CMD, CMD-SHELL or NONE, got %q", h.Test[0])
		}
		if len(h.Test) < 2 {
			return errors.New("test has no command")
		}
	case HealthTypeTCP:
		if h.Address == "" {
			return errors.New("tcp check missing address")
		}
	case HealthTypeHTTP:
		if h.URL == "" && h.Address == "" {
			return errors.New("http check missing url")
		}
	case HealthTypeRedis:
		if h.Address == "" && h.URL == "" {
			return errors.New("redis check missing address")
		}
	case HealthTypeMySQL, HealthTypePostgres:
		if h.DSN == "" {
			return errors.New("sql check missing dsn")
		}
	}
	return nil
}
