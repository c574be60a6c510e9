package health

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/pkg/errors"
)

// maxOutput bounds how much probe output is kept in a Result.
const maxOutput = 4096

// Probe runs a single health check attempt. The caller bounds it with a
// context deadline.
type Probe interface {
	Check(ctx context.Context) (string, error)
}

// NewProbe builds the probe described by a resolved health check.
func NewProbe(h *engine.HealthCheck) (Probe, error) {
	if h == nil {
		return nil, errors.New("nil health check")
	}
	switch strings.ToLower(h.Type) {
	case "", config.HealthTypeCmd:
		return newCommandProbe(h.Test, h.Container)
	case config.HealthTypeTCP:
		if h.Address == "" {
			return nil, errors.New("health tcp missing address")
		}
		return &TCPProbe{Address: h.Address}, nil
	case config.HealthTypeHTTP:
		url := h.URL
		if url == "" {
			url = h.Address
		}
		if url == "" {
			return nil, errors.New("health http missing url")
		}
		return &HTTPProbe{URL: url}, nil
	case config.HealthTypeRedis:
		return NewRedisProbe(h.Address, h.URL)
	case config.HealthTypeMySQL:
		return NewSQLProbe("mysql", h.DSN)
	case config.HealthTypePostgres:
		return NewSQLProbe("postgres", h.DSN)
	default:
		return nil, errors.Errorf("unsupported health type %q", h.Type)
	}
}

// CommandProbe runs a command; exit status 0 means healthy.
type CommandProbe struct {
	Argv []string
}

// newCommandProbe turns a compose test into argv. With a container the
// command runs inside it through `docker exec`.
func newCommandProbe(test []string, container string) (*CommandProbe, error) {
	if len(test) < 2 {
		return nil, errors.New("health test has no command")
	}
	var argv []string
	switch test[0] {
	case "CMD":
		argv = append([]string{}, test[1:]...)
	case "CMD-SHELL":
		argv = []string{"/bin/sh", "-c", strings.Join(test[1:], " ")}
	default:
		return nil, errors.Errorf("unsupported health test kind %q", test[0])
	}
	if container != "" {
		argv = append([]string{"docker", "exec", container}, argv...)
	}
	return &CommandProbe{Argv: argv}, nil
}

func (p *CommandProbe) Check(ctx context.Context) (string, error) {
	// #nosec G204 -- probe command is configured in the stack manifest.
	cmd := exec.CommandContext(ctx, p.Argv[0], p.Argv[1:]...)
	cmd.WaitDelay = 500 * time.Millisecond
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := truncate(strings.TrimSpace(buf.String()))
	if ctx.Err() != nil {
		return out, errors.Wrap(ctx.Err(), "health command timed out")
	}
	if err != nil {
		return out, errors.Wrap(err, "health command failed")
	}
	return out, nil
}

type TCPProbe struct {
	Address string
}

func (p *TCPProbe) Check(ctx context.Context) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return "", errors.Wrap(err, "tcp dial")
	}
	_ = conn.Close()
	return "connected to " + p.Address, nil
}

// HTTPProbe treats 2xx and 3xx responses as healthy.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProbe) Check(ctx context.Context) (string, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "build http request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "http get")
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return resp.Status, errors.Errorf("http status %d", resp.StatusCode)
	}
	return resp.Status, nil
}

// truncate cuts s to maxOutput bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	cut := maxOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
