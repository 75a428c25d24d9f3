package worker

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/jobs"
)

var validate = validator.New()

// UpdateJobConfig changes a job's enabled flag and/or interval and persists
// the table. An interval change reanchors next_run on the last run.
func (w *Worker) UpdateJobConfig(ctx context.Context, name string, params UpdateJobConfigParams) (*jobs.JobConfig, error) {
	if err := validate.Struct(params); err != nil {
		return nil, errcodes.ValidationError("Interval must be at least one minute.")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	job, ok := w.jobs[name]
	if !ok {
		return nil, errcodes.NotFound("Job")
	}

	if params.Enabled != nil {
		job.config.Enabled = *params.Enabled
	}
	if params.Interval != nil {
		job.config.Interval = jobs.Duration(*params.Interval)
		if job.config.LastRun != nil {
			job.config.NextRun = job.config.LastRun.Add(*params.Interval)
		} else {
			job.config.NextRun = w.clock()
		}
	}

	if err := w.saveLocked(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return job.config.Clone(), nil
}
