package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shishobooks/hondana/pkg/config"
	"github.com/shishobooks/hondana/pkg/errcodes"
	"github.com/shishobooks/hondana/pkg/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory jobs.Store recording every snapshot it was handed.
// Arm failNextSave to make the next Save fail once, simulating an unwritable
// state store.
type memStore struct {
	mu           sync.Mutex
	configs      []*jobs.JobConfig
	saves        int
	failNextSave bool
}

func (s *memStore) Load(_ context.Context) ([]*jobs.JobConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*jobs.JobConfig, 0, len(s.configs))
	for _, jc := range s.configs {
		out = append(out, jc.Clone())
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, configs []*jobs.JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNextSave {
		s.failNextSave = false
		return errors.New("job store unwritable")
	}

	s.saves++
	s.configs = make([]*jobs.JobConfig, 0, len(configs))
	for _, jc := range configs {
		s.configs = append(s.configs, jc.Clone())
	}
	return nil
}

func (s *memStore) failOnce() {
	s.mu.Lock()
	s.failNextSave = true
	s.mu.Unlock()
}

func newTestWorker(t *testing.T, store jobs.Store) *Worker {
	t.Helper()

	if store == nil {
		store = &memStore{}
	}
	cfg := &config.Config{WorkerPollInterval: 10 * time.Millisecond}
	w, err := New(cfg, store)
	require.NoError(t, err)
	return w
}

func noopJob(_ context.Context) (*jobs.Result, error) {
	return &jobs.Result{}, nil
}

func TestRegister_NewJobStartsIdleAndDue(t *testing.T) {
	w := newTestWorker(t, nil)

	err := w.Register("demo", "A demo job.", time.Hour, true, noopJob)
	require.NoError(t, err)

	status := w.JobsStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "demo", status[0].Name)
	assert.Equal(t, jobs.JobStatusIdle, status[0].Status)
	assert.True(t, status[0].Enabled)
	assert.False(t, status[0].NextRun.After(time.Now()))
	assert.Nil(t, status[0].LastRun)
}

func TestRegister_UpsertPreservesHistory(t *testing.T) {
	lastRun := time.Now().Add(-time.Hour).Truncate(time.Second)
	store := &memStore{configs: []*jobs.JobConfig{{
		Name:           "demo",
		Description:    "Old description.",
		Interval:       jobs.Duration(time.Hour),
		Enabled:        true,
		Status:         jobs.JobStatusCompleted,
		LastRun:        &lastRun,
		NextRun:        lastRun.Add(time.Hour),
		ItemsProcessed: 42,
		ItemsFailed:    3,
	}}}

	w := newTestWorker(t, store)
	err := w.Register("demo", "New description.", 30*time.Minute, false, noopJob)
	require.NoError(t, err)

	status := w.JobsStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "New description.", status[0].Description)
	assert.Equal(t, jobs.Duration(30*time.Minute), status[0].Interval)
	assert.False(t, status[0].Enabled)
	// Redeploys must not lose run history.
	require.NotNil(t, status[0].LastRun)
	assert.Equal(t, lastRun.Unix(), status[0].LastRun.Unix())
	assert.Equal(t, 42, status[0].ItemsProcessed)
	assert.Equal(t, 3, status[0].ItemsFailed)
}

func TestRun_UnknownJob(t *testing.T) {
	w := newTestWorker(t, nil)

	err := w.Run(context.Background(), "nope", true)
	assert.True(t, errors.Is(err, errcodes.NotFound("Job")))
}

func TestRun_RecordsResultAndAdvancesNextRun(t *testing.T) {
	store := &memStore{}
	w := newTestWorker(t, store)

	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		return &jobs.Result{Processed: 7, Failed: 2}, nil
	}))

	before := time.Now()
	require.NoError(t, w.Run(context.Background(), "demo", true))

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusCompleted, status.Status)
	assert.Equal(t, 7, status.ItemsProcessed)
	assert.Equal(t, 2, status.ItemsFailed)
	require.NotNil(t, status.LastRun)
	assert.False(t, status.LastRun.Before(before))
	assert.Equal(t, status.LastRun.Add(time.Hour).Unix(), status.NextRun.Unix())
	assert.Nil(t, status.LastError)

	// running + terminal transitions were both persisted.
	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, jobs.JobStatusCompleted, persisted[0].Status)
}

func TestRun_FailureSetsLastErrorAndStillAdvances(t *testing.T) {
	w := newTestWorker(t, nil)

	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		return nil, errors.New("source exploded")
	}))

	err := w.Run(context.Background(), "demo", true)
	require.Error(t, err)

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusFailed, status.Status)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "source exploded")
	// next_run still advances so a failing job can't stall permanently.
	require.NotNil(t, status.LastRun)
	assert.Equal(t, status.LastRun.Add(time.Hour).Unix(), status.NextRun.Unix())
}

func TestRun_RateLimitedResult(t *testing.T) {
	w := newTestWorker(t, nil)

	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		return &jobs.Result{Processed: 3, RateLimited: true}, nil
	}))

	require.NoError(t, w.Run(context.Background(), "demo", true))

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusRateLimited, status.Status)
	assert.Equal(t, 3, status.ItemsProcessed)
}

func TestRun_PanicBecomesFailedRun(t *testing.T) {
	w := newTestWorker(t, nil)

	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		panic("boom")
	}))

	err := w.Run(context.Background(), "demo", true)
	require.Error(t, err)

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusFailed, status.Status)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "boom")
}

func TestRun_MutualExclusion(t *testing.T) {
	w := newTestWorker(t, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		close(started)
		<-release
		return &jobs.Result{Processed: 1}, nil
	}))

	done := make(chan error, 1)
	go func() {
		done <- w.Run(context.Background(), "demo", true)
	}()
	<-started

	// A second run, even forced, must not start while the first holds the
	// running status.
	err := w.Run(context.Background(), "demo", true)
	assert.True(t, errors.Is(err, errcodes.Conflict("Job is already running.")))

	close(release)
	require.NoError(t, <-done)

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusCompleted, status.Status)
	assert.Equal(t, 1, status.ItemsProcessed)
}

func TestRun_NotForcedRespectsEnabledAndSchedule(t *testing.T) {
	w := newTestWorker(t, nil)

	ran := false
	require.NoError(t, w.Register("demo", "", time.Hour, false, func(_ context.Context) (*jobs.Result, error) {
		ran = true
		return &jobs.Result{}, nil
	}))

	err := w.Run(context.Background(), "demo", false)
	require.Error(t, err)
	assert.False(t, ran)
}

func TestTrigger_RunsDisabledJob(t *testing.T) {
	w := newTestWorker(t, nil)

	ran := make(chan struct{})
	require.NoError(t, w.Register("demo", "", time.Hour, false, func(_ context.Context) (*jobs.Result, error) {
		close(ran)
		return &jobs.Result{}, nil
	}))

	require.NoError(t, w.Trigger("demo"))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("triggered job never ran")
	}
}

func TestTrigger_UnknownJob(t *testing.T) {
	w := newTestWorker(t, nil)

	err := w.Trigger("nope")
	assert.True(t, errors.Is(err, errcodes.NotFound("Job")))
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	w := newTestWorker(t, nil)

	ran := make(chan struct{})
	var once sync.Once
	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		once.Do(func() { close(ran) })
		return &jobs.Result{}, nil
	}))

	w.Start()
	defer w.Shutdown()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("due job never launched")
	}
}

func TestScheduler_SkipsNotDueJobs(t *testing.T) {
	w := newTestWorker(t, nil)

	require.NoError(t, w.Register("demo", "", time.Hour, true, noopJob))
	// Completed moments ago; next run is an hour out.
	require.NoError(t, w.Run(context.Background(), "demo", true))

	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Shutdown()

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusCompleted, status.Status)
	// Only the one forced run happened.
	require.NotNil(t, status.LastRun)
	assert.Equal(t, status.LastRun.Add(time.Hour).Unix(), status.NextRun.Unix())
}

func TestUpdateJobConfig_Validation(t *testing.T) {
	w := newTestWorker(t, nil)
	require.NoError(t, w.Register("demo", "", time.Hour, true, noopJob))

	tooShort := 5 * time.Second
	_, err := w.UpdateJobConfig(context.Background(), "demo", UpdateJobConfigParams{Interval: &tooShort})
	assert.True(t, errors.Is(err, errcodes.ValidationError("Interval must be at least one minute.")))

	_, err = w.UpdateJobConfig(context.Background(), "nope", UpdateJobConfigParams{})
	assert.True(t, errors.Is(err, errcodes.NotFound("Job")))
}

func TestUpdateJobConfig_ChangesPersist(t *testing.T) {
	store := &memStore{}
	w := newTestWorker(t, store)
	require.NoError(t, w.Register("demo", "", time.Hour, true, noopJob))
	require.NoError(t, w.Run(context.Background(), "demo", true))

	enabled := false
	interval := 2 * time.Hour
	updated, err := w.UpdateJobConfig(context.Background(), "demo", UpdateJobConfigParams{
		Enabled:  &enabled,
		Interval: &interval,
	})
	require.NoError(t, err)

	assert.False(t, updated.Enabled)
	assert.Equal(t, jobs.Duration(2*time.Hour), updated.Interval)
	// next_run reanchors on the last run.
	require.NotNil(t, updated.LastRun)
	assert.Equal(t, updated.LastRun.Add(2*time.Hour).Unix(), updated.NextRun.Unix())

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.False(t, persisted[0].Enabled)
}

func TestWorker_RestartResumesFromStore(t *testing.T) {
	store := &memStore{}
	w := newTestWorker(t, store)
	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		return &jobs.Result{Processed: 9}, nil
	}))
	require.NoError(t, w.Run(context.Background(), "demo", true))

	// A fresh worker over the same store sees the same state.
	w2 := newTestWorker(t, store)
	require.NoError(t, w2.Register("demo", "", time.Hour, true, noopJob))

	status := w2.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusCompleted, status.Status)
	assert.Equal(t, 9, status.ItemsProcessed)
	require.NotNil(t, status.LastRun)
}

func TestWorker_StaleRunningRowIsVisibleAfterRestart(t *testing.T) {
	// A crash mid-run leaves status running in the store; the restarted
	// worker surfaces it rather than silently resetting it.
	store := &memStore{configs: []*jobs.JobConfig{{
		Name:     "demo",
		Interval: jobs.Duration(time.Hour),
		Enabled:  true,
		Status:   jobs.JobStatusRunning,
		NextRun:  time.Now().Add(-time.Minute),
	}}}

	w := newTestWorker(t, store)
	require.NoError(t, w.Register("demo", "", time.Hour, true, noopJob))

	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusRunning, status.Status)
}

func TestRun_PreRunSaveFailureRollsBackStatus(t *testing.T) {
	store := &memStore{}
	w := newTestWorker(t, store)

	ran := false
	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		ran = true
		return &jobs.Result{Processed: 1}, nil
	}))

	store.failOnce()
	err := w.Run(context.Background(), "demo", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job store unwritable")
	// The function never ran and the job did not get stuck in running.
	assert.False(t, ran)
	assert.Equal(t, jobs.JobStatusIdle, w.JobsStatus()[0].Status)

	// The store recovered; the job is still launchable.
	require.NoError(t, w.Run(context.Background(), "demo", true))
	assert.True(t, ran)
	assert.Equal(t, jobs.JobStatusCompleted, w.JobsStatus()[0].Status)
}

func TestRun_TerminalSaveFailureIsTheRunError(t *testing.T) {
	store := &memStore{}
	w := newTestWorker(t, store)

	var breakStore sync.Once
	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		// The store breaks while the job is running, so only the terminal
		// transition's save fails.
		breakStore.Do(store.failOnce)
		return &jobs.Result{Processed: 4}, nil
	}))

	err := w.Run(context.Background(), "demo", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job store unwritable")

	// Fatal to this run only: the job left running state and can run again.
	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusCompleted, status.Status)
	require.NoError(t, w.Run(context.Background(), "demo", true))
}

func TestScheduler_SurvivesSaveFailure(t *testing.T) {
	store := &memStore{}
	w := newTestWorker(t, store)

	ran := make(chan struct{})
	var once sync.Once
	require.NoError(t, w.Register("demo", "", time.Hour, true, func(_ context.Context) (*jobs.Result, error) {
		once.Do(func() { close(ran) })
		return &jobs.Result{}, nil
	}))

	// The first launch attempt hits an unwritable store; the loop must log it
	// and keep ticking until a later attempt succeeds.
	store.failOnce()
	w.Start()
	defer w.Shutdown()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("scheduler never recovered from the save failure")
	}
}

func TestShutdown_CancelsInFlightJob(t *testing.T) {
	w := newTestWorker(t, nil)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, w.Register("demo", "", time.Hour, false, func(ctx context.Context) (*jobs.Result, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}))

	w.Start()
	require.NoError(t, w.Trigger("demo"))
	<-started

	done := make(chan struct{})
	go func() {
		w.Shutdown()
		close(done)
	}()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight job never observed cancellation")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown never returned")
	}

	// The cancelled run was recorded like any failed run.
	status := w.JobsStatus()[0]
	assert.Equal(t, jobs.JobStatusFailed, status.Status)
	require.NotNil(t, status.LastError)
	assert.Contains(t, *status.LastError, "context canceled")
}
