package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/hondana/pkg/config"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/jobs"
)

// Worker owns the registered jobs and decides when each one runs. It's an
// explicitly constructed instance, not a package singleton, so tests can run
// several side by side.
type Worker struct {
	config *config.Config
	log    logger.Logger
	store  jobs.Store

	mu    sync.Mutex
	jobs  map[string]*registeredJob
	clock func() time.Time

	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	doneLoop chan struct{}
}

type registeredJob struct {
	config *jobs.JobConfig
	fn     jobs.Func
}

func New(cfg *config.Config, store jobs.Store) (*Worker, error) {
	baseCtx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		config:   cfg,
		log:      logger.New(),
		store:    store,
		jobs:     map[string]*registeredJob{},
		clock:    time.Now,
		baseCtx:  baseCtx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
		doneLoop: make(chan struct{}),
	}

	// The persisted document is the sole source of truth across restarts;
	// registration merges into whatever it says.
	persisted, err := store.Load(baseCtx)
	if err != nil {
		cancel()
		return nil, errors.WithStack(err)
	}
	for _, jc := range persisted {
		w.jobs[jc.Name] = &registeredJob{config: jc}
	}

	return w, nil
}

// Register upserts a job definition. Re-registering an existing job (e.g.
// after a redeploy) updates its description, interval, enabled flag, and
// function, but keeps its run history and counters.
func (w *Worker) Register(name, description string, interval time.Duration, enabled bool, fn jobs.Func) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.jobs[name]; ok {
		existing.config.Description = description
		existing.config.Interval = jobs.Duration(interval)
		existing.config.Enabled = enabled
		existing.fn = fn
		return w.saveLocked(context.Background())
	}

	w.jobs[name] = &registeredJob{
		config: &jobs.JobConfig{
			Name:        name,
			Description: description,
			Interval:    jobs.Duration(interval),
			Enabled:     enabled,
			Status:      jobs.JobStatusIdle,
			NextRun:     w.clock(),
		},
		fn: fn,
	}
	return w.saveLocked(context.Background())
}

func (w *Worker) Start() {
	go w.schedule()
}

func (w *Worker) Shutdown() {
	close(w.shutdown)
	<-w.doneLoop

	// Cancel in-flight job tasks and wait for them to unwind. Individual
	// record writes are atomic; anything half-done stays as-is for the next
	// reconciliation pass to repair.
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) schedule() {
	timer := time.NewTimer(w.config.WorkerPollInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.shutdown:
			w.doneLoop <- struct{}{}
			return
		case <-timer.C:
			// A bad tick is logged and the loop keeps going; the scheduler
			// itself never dies over one job's trouble.
			w.launchDue()
			timer.Reset(w.config.WorkerPollInterval)
		}
	}
}

func (w *Worker) launchDue() {
	now := w.clock()

	w.mu.Lock()
	due := []string{}
	for name, job := range w.jobs {
		if job.config.Enabled && job.config.Status != jobs.JobStatusRunning && !now.Before(job.config.NextRun) && job.fn != nil {
			due = append(due, name)
		}
	}
	sort.Strings(due)
	w.mu.Unlock()

	for _, name := range due {
		name := name
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.Run(w.baseCtx, name, false); err != nil && !errors.Is(err, errConflict) {
				w.log.Err(err).Error("job run error", logger.Data{"job": name})
			}
		}()
	}
}

// errConflict is returned when a run is declined because the job is already
// running or not due; tick-launched runs treat it as a no-op.
var errConflict = errcodes.Conflict("Job is already running.")

// Run executes one job synchronously. Unless forced, it re-checks the enabled
// flag and schedule first. The running status doubles as the mutex that keeps
// a job single-instance.
func (w *Worker) Run(ctx context.Context, name string, force bool) error {
	w.mu.Lock()
	job, ok := w.jobs[name]
	if !ok || job.fn == nil {
		w.mu.Unlock()
		return errcodes.NotFound("Job")
	}

	if job.config.Status == jobs.JobStatusRunning {
		w.mu.Unlock()
		return errConflict
	}
	if !force {
		if !job.config.Enabled || w.clock().Before(job.config.NextRun) {
			w.mu.Unlock()
			return errConflict
		}
	}

	// Transition to running and persist before invoking the function, so a
	// crash mid-run is observable on restart as a stale running row.
	job.config.Status = jobs.JobStatusRunning
	if err := w.saveLocked(ctx); err != nil {
		job.config.Status = jobs.JobStatusIdle
		w.mu.Unlock()
		return err
	}
	fn := job.fn
	w.mu.Unlock()

	id, err := uuid.NewRandom()
	if err != nil {
		return errors.WithStack(err)
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job": name})
	runCtx := log.WithContext(ctx)

	log.Info("job started")
	started := w.clock()
	result, runErr := w.invoke(runCtx, fn)

	w.mu.Lock()
	defer w.mu.Unlock()

	job.config.LastRun = &started
	job.config.NextRun = started.Add(job.config.Interval.Std())
	job.config.LastError = nil

	switch {
	case runErr != nil:
		job.config.Status = jobs.JobStatusFailed
		msg := runErr.Error()
		job.config.LastError = &msg
		log.Err(runErr).Error("job failed")
	case result != nil && result.RateLimited:
		job.config.Status = jobs.JobStatusRateLimited
	default:
		job.config.Status = jobs.JobStatusCompleted
	}
	if result != nil {
		job.config.ItemsProcessed = result.Processed
		job.config.ItemsFailed = result.Failed
		log.Info("job finished", logger.Data{
			"processed":     result.Processed,
			"failed":        result.Failed,
			"rate_limited":  result.RateLimited,
			"stopped_early": result.StoppedEarly,
		})
	}

	if err := w.saveLocked(ctx); err != nil {
		return err
	}
	return errors.WithStack(runErr)
}

// invoke calls the job function with panics converted into errors, so a
// misbehaving job records a failed run instead of taking the process down.
func (w *Worker) invoke(ctx context.Context, fn jobs.Func) (result *jobs.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Trigger schedules an immediate forced run and returns without waiting for
// it. The launched task is tracked and waited on during Shutdown.
func (w *Worker) Trigger(name string) error {
	w.mu.Lock()
	_, ok := w.jobs[name]
	w.mu.Unlock()
	if !ok {
		return errcodes.NotFound("Job")
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Run(w.baseCtx, name, true); err != nil && !errors.Is(err, errConflict) {
			w.log.Err(err).Error("triggered job error", logger.Data{"job": name})
		}
	}()
	return nil
}

// JobsStatus returns a snapshot of every job's persisted state, sorted by
// name.
func (w *Worker) JobsStatus() []*jobs.JobConfig {
	w.mu.Lock()
	defer w.mu.Unlock()

	configs := make([]*jobs.JobConfig, 0, len(w.jobs))
	for _, job := range w.jobs {
		configs = append(configs, job.config.Clone())
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

// saveLocked persists the full job table. Callers must hold w.mu.
func (w *Worker) saveLocked(ctx context.Context) error {
	configs := make([]*jobs.JobConfig, 0, len(w.jobs))
	for _, job := range w.jobs {
		configs = append(configs, job.config)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return errors.WithStack(w.store.Save(ctx, configs))
}
