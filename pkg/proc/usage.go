// Package proc reads resource usage of supervised processes from /proc.
package proc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Usage is a point-in-time view of one process.
type Usage struct {
	PID      int    `json:"pid"`
	State    string `json:"state"` // R, S, D, Z, T...
	Threads  int    `json:"threads"`
	RSSBytes int64  `json:"rss_bytes"`
}

func (u Usage) MemoryMB() int64 {
	return u.RSSBytes / (1024 * 1024)
}

// ReadUsage parses /proc/<pid>/stat. procRoot defaults to /proc.
func ReadUsage(procRoot string, pid int) (Usage, error) {
	if pid <= 0 {
		return Usage{}, errors.New("invalid pid")
	}
	if procRoot == "" {
		procRoot = "/proc"
	}
	b, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return Usage{}, errors.Wrap(err, "read stat")
	}
	return parseStat(pid, string(b), int64(os.Getpagesize()))
}

// parseStat reads fields after the comm field, which may itself contain
// spaces and parentheses.
func parseStat(pid int, content string, pageSize int64) (Usage, error) {
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return Usage{}, errors.New("malformed stat: no closing paren")
	}
	fields := strings.Fields(content[closeParen+1:])
	// state is field 0, num_threads 17, rss 21.
	if len(fields) < 22 {
		return Usage{}, errors.Errorf("malformed stat: expected 22+ fields, got %d", len(fields))
	}
	threads, err := strconv.Atoi(fields[17])
	if err != nil {
		return Usage{}, errors.Wrap(err, "parse num_threads")
	}
	rss, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return Usage{}, errors.Wrap(err, "parse rss")
	}
	return Usage{
		PID:      pid,
		State:    fields[0],
		Threads:  threads,
		RSSBytes: rss * pageSize,
	}, nil
}
