package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// scriptedProbe fails until the configured attempt, then succeeds forever.
// A succeedAt of 0 means it never succeeds.
type scriptedProbe struct {
	mu        sync.Mutex
	attempts  int
	succeedAt int
	closed    bool
}

func (p *scriptedProbe) Check(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.succeedAt > 0 && p.attempts >= p.succeedAt {
		return "ok", nil
	}
	return "", errors.New("not yet")
}

func (p *scriptedProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestMonitor_BecomesHealthy(t *testing.T) {
	probe := &scriptedProbe{succeedAt: 3}
	m := NewMonitor("db", probe, MonitorOptions{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 5})
	require.Equal(t, StatusStarting, m.Status().Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Start(ctx)
	defer func() { _ = m.Close() }()

	require.NoError(t, WaitHealthy(ctx, m))
	require.Equal(t, StatusHealthy, m.Status().Status)

	select {
	case res := <-m.StatusChange():
		require.Equal(t, StatusHealthy, res.Status)
	case <-time.After(time.Second):
		t.Fatal("no status change delivered")
	}

	require.NoError(t, m.Close())
	probe.mu.Lock()
	require.True(t, probe.closed)
	probe.mu.Unlock()
}

func TestMonitor_ExhaustedRetriesFailsWait(t *testing.T) {
	probe := &scriptedProbe{}
	m := NewMonitor("cache", probe, MonitorOptions{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Start(ctx)
	defer func() { _ = m.Close() }()

	err := WaitHealthy(ctx, m)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnhealthy)

	res := m.Status()
	require.Equal(t, StatusUnhealthy, res.Status)
	require.GreaterOrEqual(t, res.FailingStreak, 3)
}

func TestMonitor_WaitRespectsContext(t *testing.T) {
	probe := &scriptedProbe{}
	m := NewMonitor("slow", probe, MonitorOptions{Interval: time.Hour, Timeout: time.Second, Retries: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m.Start(context.Background())
	defer func() { _ = m.Close() }()

	err := WaitHealthy(ctx, m)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitor_CheckOnceWithoutLoop(t *testing.T) {
	probe := &scriptedProbe{succeedAt: 1}
	m := NewMonitor("web", probe, MonitorOptions{Retries: 1})

	res := m.CheckOnce(context.Background())
	require.Equal(t, StatusHealthy, res.Status)
	require.NoError(t, WaitHealthy(context.Background(), m))
	require.NoError(t, m.Close())
}

func TestMonitor_HealthyThenUnhealthyStillReady(t *testing.T) {
	probe := &flakyProbe{results: []error{nil, errors.New("down"), errors.New("down")}}
	m := NewMonitor("web", probe, MonitorOptions{Retries: 2})

	m.CheckOnce(context.Background())
	m.CheckOnce(context.Background())
	res := m.CheckOnce(context.Background())
	require.Equal(t, StatusUnhealthy, res.Status)

	// Dependents gate on the first healthy report only.
	require.NoError(t, WaitHealthy(context.Background(), m))
	select {
	case <-m.Failed():
		t.Fatal("failed must only close when the service was never healthy")
	default:
	}
}

type flakyProbe struct {
	results []error
	i       int
}

func (p *flakyProbe) Check(ctx context.Context) (string, error) {
	err := p.results[p.i%len(p.results)]
	p.i++
	return "", err
}
