// Package tui renders a live view of a running stack from its state file.
package tui

import (
	"os"
	"time"

	"github.com/go-go-golems/devstack/pkg/proc"
	"github.com/go-go-golems/devstack/pkg/state"
	"github.com/pkg/errors"
)

type ServiceRow struct {
	Name      string
	PID       int
	Alive     bool
	Health    string
	Streak    int
	Output    string
	MemoryMB  int64
	StderrLog string
}

type Snapshot struct {
	RepoRoot string
	At       time.Time
	Exists   bool
	Error    string
	Project  string
	Services []ServiceRow
}

// ReadSnapshot loads the state file and checks liveness of every service.
// A missing state file is not an error.
func ReadSnapshot(repoRoot string) Snapshot {
	snap := Snapshot{RepoRoot: repoRoot, At: time.Now()}
	if _, err := os.Stat(state.StatePath(repoRoot)); err != nil {
		if !os.IsNotExist(err) {
			snap.Exists = true
			snap.Error = errors.Wrap(err, "stat state").Error()
		}
		return snap
	}
	snap.Exists = true

	st, err := state.Load(repoRoot)
	if err != nil {
		snap.Error = errors.Wrap(err, "load state").Error()
		return snap
	}
	snap.Project = st.Project
	for _, rec := range st.Services {
		row := ServiceRow{
			Name:      rec.Name,
			PID:       rec.PID,
			Alive:     state.ProcessAlive(rec.PID),
			Health:    "-",
			StderrLog: rec.StderrLog,
		}
		if rec.Health != nil {
			row.Health = rec.Health.Status
			row.Streak = rec.Health.FailingStreak
			row.Output = rec.Health.Output
		}
		if row.Alive {
			if u, err := proc.ReadUsage("", rec.PID); err == nil {
				row.MemoryMB = u.MemoryMB()
			}
		}
		snap.Services = append(snap.Services, row)
	}
	return snap
}
