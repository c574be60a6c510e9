package supervise

import (
	"context"
	"syscall"
	"time"

	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/pkg/errors"
)

// terminatePIDGroup sends SIGTERM to the process group of pid, waits up to
// timeout, then escalates to SIGKILL.
func terminatePIDGroup(ctx context.Context, pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, pgErr := syscall.Getpgid(pid)
	signal := func(sig syscall.Signal) {
		if pgErr == nil {
			_ = syscall.Kill(-pgid, sig)
			return
		}
		_ = syscall.Kill(pid, sig)
	}

	signal(syscall.SIGTERM)

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	if waitExit(ctx, t, pid, time.Now().Add(timeout)) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	signal(syscall.SIGKILL)
	if waitExit(ctx, t, pid, time.Now().Add(2*time.Second)) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Errorf("process %d did not exit", pid)
}

// waitExit polls until pid is gone, the deadline passes or ctx ends.
func waitExit(ctx context.Context, t *time.Ticker, pid int, deadline time.Time) bool {
	for {
		if !state.ProcessAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}
