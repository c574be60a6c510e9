package supervise

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/go-go-golems/devstack/pkg/events"
	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		env, err := events.DecodeMessage(msg)
		if err != nil {
			return err
		}
		p.types = append(p.types, env.Type)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.types...)
}

func cmdHealth(script string, retries int) *engine.HealthCheck {
	return &engine.HealthCheck{
		Type:     "cmd",
		Test:     []string{"CMD-SHELL", script},
		Interval: 50 * time.Millisecond,
		Timeout:  time.Second,
		Retries:  retries,
	}
}

func waitDead(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for state.ProcessAlive(pid) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, state.ProcessAlive(pid))
}

func TestSupervisor_StartStop_Sleep(t *testing.T) {
	repoRoot, err := os.MkdirTemp("", "devstack-supervise-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(repoRoot) }()

	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := s.Start(ctx, engine.LaunchPlan{
		Project: "t",
		Services: []engine.ServiceSpec{
			{Name: "sleep", Command: []string{"bash", "-lc", "sleep 10"}, Env: map[string]string{"DB_PASSWORD": "x"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, st.Services, 1)
	require.Equal(t, "t", st.Project)
	require.True(t, state.ProcessAlive(st.Services[0].PID))
	require.Equal(t, "[REDACTED]", st.Services[0].Env["DB_PASSWORD"])
	require.FileExists(t, st.Services[0].StdoutLog)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx, st))
	waitDead(t, st.Services[0].PID)
}

func TestSupervisor_WaitsForHealthyDependency(t *testing.T) {
	repoRoot, err := os.MkdirTemp("", "devstack-supervise-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(repoRoot) }()

	pub := &recordingPublisher{}
	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second, Publisher: pub})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ready := filepath.Join(repoRoot, "db.ready")
	appOut := filepath.Join(repoRoot, "app.out")
	st, err := s.Start(ctx, engine.LaunchPlan{
		Project: "t",
		Services: []engine.ServiceSpec{
			{
				Name:    "db",
				Command: []string{"bash", "-lc", "sleep 0.3; touch " + ready + "; sleep 10"},
				Health:  cmdHealth("test -f "+ready, 100),
			},
			{
				Name:      "app",
				Command:   []string{"bash", "-lc", "if test -f " + ready + "; then echo ok > " + appOut + "; fi; sleep 10"},
				DependsOn: map[string]config.Condition{"db": config.ConditionHealthy},
			},
		},
	})
	require.NoError(t, err)
	defer func() { _ = s.Stop(context.Background(), st) }()

	require.Len(t, st.Services, 2)
	require.Equal(t, "db", st.Services[0].Name)
	require.Equal(t, "healthy", st.Services[0].Health.Status)
	require.Equal(t, []string{"db"}, st.Services[1].DependsOn)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b, err := os.ReadFile(appOut); err == nil && string(b) == "ok\n" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	b, err := os.ReadFile(appOut)
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(b))

	seen := pub.seen()
	require.Contains(t, seen, events.TypeServiceStarting)
	require.Contains(t, seen, events.TypeServiceStarted)
	require.Equal(t, events.TypeStackUp, seen[len(seen)-1])
}

func TestSupervisor_UnhealthyDependencyBlocksDependent(t *testing.T) {
	repoRoot, err := os.MkdirTemp("", "devstack-supervise-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(repoRoot) }()

	pub := &recordingPublisher{}
	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second, Publisher: pub})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pidFile := filepath.Join(repoRoot, "cache.pid")
	marker := filepath.Join(repoRoot, "app.started")
	_, err = s.Start(ctx, engine.LaunchPlan{
		Services: []engine.ServiceSpec{
			{
				Name:    "cache",
				Command: []string{"bash", "-lc", "echo $$ > " + pidFile + "; sleep 10"},
				Health:  cmdHealth("exit 1", 2),
			},
			{
				Name:      "app",
				Command:   []string{"bash", "-lc", "touch " + marker + "; sleep 10"},
				DependsOn: map[string]config.Condition{"cache": config.ConditionHealthy},
			},
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `dependency "cache" of "app" is unhealthy`)

	_, statErr := os.Stat(marker)
	require.True(t, os.IsNotExist(statErr), "dependent must never start")

	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	var pid int
	_, err = fmt.Sscanf(string(b), "%d", &pid)
	require.NoError(t, err)
	waitDead(t, pid)

	require.Contains(t, pub.seen(), events.TypeServiceBlocked)
	require.NotContains(t, pub.seen(), events.TypeStackUp)
}

func TestSupervisor_StartedConditionOrdersLaunch(t *testing.T) {
	repoRoot, err := os.MkdirTemp("", "devstack-supervise-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(repoRoot) }()

	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := s.Start(ctx, engine.LaunchPlan{
		Services: []engine.ServiceSpec{
			{Name: "mail", Command: []string{"bash", "-lc", "sleep 10"}},
			{Name: "web", Command: []string{"bash", "-lc", "sleep 10"}, DependsOn: map[string]config.Condition{"mail": config.ConditionStarted}},
		},
	})
	require.NoError(t, err)
	require.Len(t, st.Services, 2)
	require.False(t, st.Services[1].StartedAt.Before(st.Services[0].StartedAt))
	require.Nil(t, st.Services[0].Health)

	require.NoError(t, s.Stop(context.Background(), st))
	for _, rec := range st.Services {
		waitDead(t, rec.PID)
	}
}

func TestSupervisor_ReadyTimeout(t *testing.T) {
	repoRoot, err := os.MkdirTemp("", "devstack-supervise-test-*")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(repoRoot) }()

	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second, ReadyTimeout: 300 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = s.Start(ctx, engine.LaunchPlan{
		Services: []engine.ServiceSpec{
			{Name: "db", Command: []string{"bash", "-lc", "sleep 10"}, Health: cmdHealth("exit 1", 1000)},
			{Name: "app", Command: []string{"bash", "-lc", "sleep 10"}, DependsOn: map[string]config.Condition{"db": config.ConditionHealthy}},
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLaunchArgv(t *testing.T) {
	argv, err := LaunchArgv("shop", engine.ServiceSpec{
		Name:  "mysql",
		Image: "mysql:8.0",
		Ports: []string{"3306:3306"},
		Env:   map[string]string{"MYSQL_ROOT_PASSWORD": "secret", "MYSQL_DATABASE": "app"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"docker", "run", "--rm", "--name", "shop-mysql",
		"-p", "3306:3306",
		"-e", "MYSQL_DATABASE",
		"-e", "MYSQL_ROOT_PASSWORD",
		"mysql:8.0",
	}, argv)

	argv, err = LaunchArgv("shop", engine.ServiceSpec{Name: "node", Image: "node:20", Command: []string{"npm", "run", "dev"}})
	require.NoError(t, err)
	require.Equal(t, []string{"npm", "run", "dev"}, argv)

	_, err = LaunchArgv("shop", engine.ServiceSpec{Name: "empty"})
	require.Error(t, err)
}

// fakeDocker puts a docker script on PATH that records its arguments. `run`
// records the password it was handed through the environment and blocks like
// a foreground container; anything else exits 0.
func fakeDocker(t *testing.T, dir string) string {
	t.Helper()
	calls := filepath.Join(dir, "docker.calls")
	script := "#!/bin/sh\n" +
		"echo \"$*\" >> " + calls + "\n" +
		"if [ \"$1\" = run ]; then echo \"env MYSQL_ROOT_PASSWORD=$MYSQL_ROOT_PASSWORD\" >> " + calls + "; exec sleep 10; fi\n" +
		"exit 0\n"
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "docker"), []byte(script), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	return calls
}

func TestSupervisor_ImageServiceChecksInsideContainer(t *testing.T) {
	repoRoot := t.TempDir()
	calls := fakeDocker(t, repoRoot)
	hostMarker := filepath.Join(repoRoot, "ran-on-host")

	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := s.Start(ctx, engine.LaunchPlan{
		Project: "shop",
		Services: []engine.ServiceSpec{
			{
				Name:   "mysql",
				Image:  "mysql:8.0",
				Env:    map[string]string{"MYSQL_ROOT_PASSWORD": "hunter2"},
				Health: &engine.HealthCheck{Type: "cmd", Test: []string{"CMD", "touch", hostMarker}, Interval: 50 * time.Millisecond, Timeout: time.Second, Retries: 5},
			},
			{
				Name:      "app",
				Command:   []string{"bash", "-lc", "sleep 10"},
				DependsOn: map[string]config.Condition{"mysql": config.ConditionHealthy},
			},
		},
	})
	require.NoError(t, err)
	defer func() { _ = s.Stop(context.Background(), st) }()

	_, statErr := os.Stat(hostMarker)
	require.True(t, os.IsNotExist(statErr), "health command must not run on the host")

	b, err := os.ReadFile(calls)
	require.NoError(t, err)
	recorded := string(b)
	require.Contains(t, recorded, "run --rm --name shop-mysql -e MYSQL_ROOT_PASSWORD mysql:8.0\n")
	require.Contains(t, recorded, "env MYSQL_ROOT_PASSWORD=hunter2\n")
	require.Contains(t, recorded, "exec shop-mysql touch "+hostMarker+"\n")

	rec, ok := st.Service("mysql")
	require.True(t, ok)
	require.Equal(t, "healthy", rec.Health.Status)
	for _, arg := range rec.Command {
		require.False(t, strings.Contains(arg, "hunter2"), "secret in recorded command: %v", rec.Command)
	}
	require.Equal(t, "[REDACTED]", rec.Env["MYSQL_ROOT_PASSWORD"])
}

func TestSupervisor_RecordedCommandIsSanitized(t *testing.T) {
	repoRoot := t.TempDir()
	s := New(Options{RepoRoot: repoRoot, ShutdownTimeout: 2 * time.Second})

	st, err := s.Start(context.Background(), engine.LaunchPlan{
		Services: []engine.ServiceSpec{
			{Name: "worker", Command: []string{"bash", "-lc", "sleep 10", "worker", "--api-token=abc123"}},
		},
	})
	require.NoError(t, err)
	defer func() { _ = s.Stop(context.Background(), st) }()

	require.Equal(t, []string{"bash", "-lc", "sleep 10", "worker", "--api-token=[REDACTED]"}, st.Services[0].Command)
}
