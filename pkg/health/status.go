package health

import (
	"time"
)

type Status string

const (
	StatusStarting  Status = "starting"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Result is the latest health observation for a service.
type Result struct {
	Status        Status    `json:"status"`
	FailingStreak int       `json:"failing_streak"`
	Output        string    `json:"output,omitempty"`
	CheckedAt     time.Time `json:"checked_at,omitempty"`
}

// Tracker turns a sequence of probe outcomes into a health status.
//
// A success marks the service healthy and resets the failing streak.
// Failures inside the start period do not count until the first success.
// Any other failure extends the streak; when the streak reaches the retry
// budget the service is unhealthy.
type Tracker struct {
	retries     int
	startPeriod time.Duration
	startedAt   time.Time

	everHealthy bool
	result      Result
}

func NewTracker(retries int, startPeriod time.Duration, startedAt time.Time) *Tracker {
	if retries < 1 {
		retries = 1
	}
	return &Tracker{
		retries:     retries,
		startPeriod: startPeriod,
		startedAt:   startedAt,
		result:      Result{Status: StatusStarting},
	}
}

func (t *Tracker) Observe(at time.Time, checkErr error, output string) Result {
	t.result.CheckedAt = at
	t.result.Output = output

	if checkErr == nil {
		t.everHealthy = true
		t.result.Status = StatusHealthy
		t.result.FailingStreak = 0
		return t.result
	}

	if t.result.Output == "" {
		t.result.Output = checkErr.Error()
	}
	if !t.everHealthy && at.Sub(t.startedAt) < t.startPeriod {
		return t.result
	}

	t.result.FailingStreak++
	if t.result.FailingStreak >= t.retries {
		t.result.Status = StatusUnhealthy
	}
	return t.result
}

func (t *Tracker) Result() Result {
	return t.result
}

func (t *Tracker) EverHealthy() bool {
	return t.everHealthy
}
