package health

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrUnhealthy is returned by WaitHealthy when the retry budget is exhausted
// before the service ever reported healthy.
var ErrUnhealthy = errors.New("service is unhealthy")

type MonitorOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
	Now         func() time.Time
}

// OptionsFor maps a resolved health check onto monitor options.
func OptionsFor(h *engine.HealthCheck) MonitorOptions {
	return MonitorOptions{
		Interval:    h.Interval,
		Timeout:     h.Timeout,
		Retries:     h.Retries,
		StartPeriod: h.StartPeriod,
	}
}

// Monitor runs a probe on a fixed interval and keeps the latest Result.
type Monitor struct {
	name  string
	probe Probe
	opts  MonitorOptions

	mu      sync.RWMutex
	tracker *Tracker
	current Result

	changes  chan Result
	ready    chan struct{}
	failed   chan struct{}
	doneOnce sync.Once
	readyOne sync.Once
	failOne  sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(name string, probe Probe, opts MonitorOptions) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tracker := NewTracker(opts.Retries, opts.StartPeriod, opts.Now())
	return &Monitor{
		name:    name,
		probe:   probe,
		opts:    opts,
		tracker: tracker,
		current: tracker.Result(),
		changes: make(chan Result, 16),
		ready:   make(chan struct{}),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start probes immediately and then once per interval until ctx ends or
// Close is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	t := time.NewTicker(m.opts.Interval)
	defer t.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single bounded probe attempt and records it.
func (m *Monitor) CheckOnce(ctx context.Context) Result {
	checkCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	out, err := m.probe.Check(checkCtx)
	cancel()
	if ctx.Err() != nil {
		return m.Status()
	}
	return m.record(err, out)
}

func (m *Monitor) record(checkErr error, out string) Result {
	m.mu.Lock()
	prev := m.current
	res := m.tracker.Observe(m.opts.Now(), checkErr, out)
	everHealthy := m.tracker.EverHealthy()
	m.current = res
	m.mu.Unlock()

	switch {
	case res.Status == StatusHealthy:
		m.readyOne.Do(func() { close(m.ready) })
	case res.Status == StatusUnhealthy && !everHealthy:
		m.failOne.Do(func() { close(m.failed) })
	}

	if prev.Status != res.Status {
		log.Debug().Str("service", m.name).Str("from", string(prev.Status)).Str("to", string(res.Status)).Str("output", res.Output).Msg("health changed")
		select {
		case m.changes <- res:
		default:
		}
	}
	return res
}

func (m *Monitor) Name() string {
	return m.name
}

func (m *Monitor) Status() Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// StatusChange delivers status transitions. Sends never block; a slow
// reader can miss intermediate transitions but Status is always current.
func (m *Monitor) StatusChange() <-chan Result {
	return m.changes
}

// Ready is closed the first time the service reports healthy.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// Failed is closed when the service turns unhealthy without ever having
// been healthy.
func (m *Monitor) Failed() <-chan struct{} {
	return m.failed
}

// Close stops the probe loop and releases probe resources.
func (m *Monitor) Close() error {
	var err error
	m.doneOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
		if c, ok := m.probe.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// WaitHealthy blocks until the monitor reports healthy at least once.
func WaitHealthy(ctx context.Context, m *Monitor) error {
	select {
	case <-m.ready:
		return nil
	default:
	}
	select {
	case <-m.ready:
		return nil
	case <-m.failed:
		return errors.Wrapf(ErrUnhealthy, "%s: %s", m.name, m.Status().Output)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for %s to become healthy", m.name)
	}
}
