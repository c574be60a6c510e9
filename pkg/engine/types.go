package engine

import (
	"time"

	"github.com/go-go-golems/devstack/pkg/config"
)

// ServiceSpec is a service with its environment interpolated and health
// check defaults applied.
type ServiceSpec struct {
	Name      string                      `json:"name"`
	Image     string                      `json:"image,omitempty"`
	Cwd       string                      `json:"cwd,omitempty"`
	Command   []string                    `json:"command,omitempty"`
	Ports     []string                    `json:"ports,omitempty"`
	Env       map[string]string           `json:"env,omitempty"`
	Health    *HealthCheck                `json:"health,omitempty"`
	DependsOn map[string]config.Condition `json:"depends_on,omitempty"`
}

// RunsImage reports whether the service is launched as a container of its
// image rather than through its own command.
func (s ServiceSpec) RunsImage() bool {
	return len(s.Command) == 0 && s.Image != ""
}

// ContainerName is the name of the container an image service runs in.
func ContainerName(project, service string) string {
	if project == "" {
		return service
	}
	return project + "-" + service
}

type HealthCheck struct {
	Type        string        `json:"type"` // "cmd"|"tcp"|"http"|"redis"|"mysql"|"postgres"
	Test        []string      `json:"test,omitempty"`
	Address     string        `json:"address,omitempty"`
	URL         string        `json:"url,omitempty"`
	DSN         string        `json:"dsn,omitempty"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
	Retries     int           `json:"retries"`
	StartPeriod time.Duration `json:"start_period,omitempty"`

	// Container, when set, runs CMD and CMD-SHELL tests inside that
	// container through `docker exec`.
	Container string `json:"container,omitempty"`
}

type LaunchPlan struct {
	Project  string        `json:"project"`
	Services []ServiceSpec `json:"services"`
	// Levels groups service names so that every dependency of a service
	// sits in an earlier level.
	Levels [][]string `json:"levels"`
}
