package jobs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const (
	JobStatusIdle        = "idle"
	JobStatusRunning     = "running"
	JobStatusCompleted   = "completed"
	JobStatusFailed      = "failed"
	JobStatusRateLimited = "rate_limited"
)

const (
	JobNameReconcile = "reconcile_series"
	JobNameEnrich    = "enrich_metadata"
)

// Func is the unit of work a job executes. It reports what it did through a
// typed Result; an error marks the whole run as failed.
type Func func(ctx context.Context) (*Result, error)

// Result is what one job run produced.
type Result struct {
	Processed    int  `json:"processed"`
	Failed       int  `json:"failed"`
	RateLimited  bool `json:"rate_limited,omitempty"`
	StoppedEarly bool `json:"stopped_early,omitempty"`
}

// JobConfig is the persisted record for one registered job. The worker
// mutates it on every state transition and writes the full table through the
// Store so a restart resumes from exactly this state.
type JobConfig struct {
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Interval       Duration   `json:"interval"`
	Enabled        bool       `json:"enabled"`
	Status         string     `json:"status"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        time.Time  `json:"next_run"`
	LastError      *string    `json:"last_error,omitempty"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
}

// Clone returns a copy safe to hand to callers while the worker keeps
// mutating the original.
func (jc *JobConfig) Clone() *JobConfig {
	c := *jc
	if jc.LastRun != nil {
		lastRun := *jc.LastRun
		c.LastRun = &lastRun
	}
	if jc.LastError != nil {
		lastError := *jc.LastError
		c.LastError = &lastError
	}
	return &c
}

// Duration serializes a time.Duration as its string form ("1h30m") so the
// job-state document stays readable and round-trips losslessly.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return errors.WithStack(err)
		}
		*d = Duration(parsed)
		return nil
	}

	// Tolerate a bare nanosecond count from older documents.
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.WithStack(err)
	}
	*d = Duration(n)
	return nil
}
