package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inmobiscrap/config"
	"inmobiscrap/lease"
	"inmobiscrap/models"
	"inmobiscrap/storage"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []int64
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
	errFor map[int64]error
}

func (r *fakeRunner) RunPipeline(_ context.Context, id int64) (*models.RunSummary, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	r.calls = append(r.calls, id)
	r.mu.Unlock()

	if err := r.errFor[id]; err != nil {
		return nil, err
	}
	return &models.RunSummary{SourceID: id, Status: models.RunStatusCompleted}, nil
}

func (r *fakeRunner) called() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.calls...)
}

type triggerCounter struct{ n atomic.Int32 }

func (t *triggerCounter) Trigger() { t.n.Add(1) }

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func addSource(t *testing.T, store *storage.SQLiteStore, url string, next *time.Time) int64 {
	t.Helper()
	id, err := store.CreateSource(&models.Source{
		URL: url, SiteName: "Portal", Priority: models.PriorityMedium,
		Active: true, FrequencyHours: 24, NextRunAt: next,
	})
	require.NoError(t, err)
	return id
}

func TestDispatchDue_RunsOnlyDueSources(t *testing.T) {
	store := newStore(t)
	later := time.Now().Add(time.Hour)
	a := addSource(t, store, "https://portal.cl/a", nil)
	b := addSource(t, store, "https://portal.cl/b", nil)
	addSource(t, store, "https://portal.cl/c", &later)

	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{Workers: 2}, runner, store, nil)

	n, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{a, b}, runner.called())
}

func TestDispatchDue_BoundsConcurrency(t *testing.T) {
	store := newStore(t)
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		addSource(t, store, "https://portal.cl/"+u, nil)
	}

	runner := &fakeRunner{delay: 20 * time.Millisecond}
	s := New(config.SchedulerConfig{Workers: 2}, runner, store, nil)

	n, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, runner.called(), 5)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestDispatchDue_SkipsWhenPausedOrInflight(t *testing.T) {
	store := newStore(t)
	id := addSource(t, store, "https://portal.cl/a", nil)

	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{Workers: 1}, runner, store, nil)

	s.Pause()
	n, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	s.Resume()
	require.True(t, s.claim(id))
	n, err = s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, runner.called())
}

func TestDispatchDue_LeaseHeldIsNotAnError(t *testing.T) {
	store := newStore(t)
	id := addSource(t, store, "https://portal.cl/a", nil)

	runner := &fakeRunner{errFor: map[int64]error{id: lease.ErrHeld}}
	s := New(config.SchedulerConfig{Workers: 1}, runner, store, nil)

	n, err := s.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, s.inflight[id])
}

func TestProcessCommands(t *testing.T) {
	store := newStore(t)
	later := time.Now().Add(time.Hour)
	a := addSource(t, store, "https://portal.cl/a", &later)
	b := addSource(t, store, "https://portal.cl/b", &later)

	runner := &fakeRunner{}
	maint := &triggerCounter{}
	s := New(config.SchedulerConfig{Workers: 1}, runner, store, nil)
	s.SetMaintenance(maint)

	require.NoError(t, store.EnqueueCommand(models.CmdRunSource, &models.CommandParams{SourceID: a}))
	require.NoError(t, store.EnqueueCommand(models.CmdPause, &models.CommandParams{SourceID: b}))
	require.NoError(t, store.EnqueueCommand(models.CmdMaintenance, nil))

	s.processCommands(context.Background())
	s.Stop()

	assert.Equal(t, []int64{a}, runner.called())
	assert.Equal(t, int32(1), maint.n.Load())

	src, err := store.GetSource(b)
	require.NoError(t, err)
	assert.False(t, src.Active)

	pending, err := store.GetPendingCommands()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessCommands_PauseResumeAndReset(t *testing.T) {
	store := newStore(t)
	later := time.Now().Add(time.Hour)
	id := addSource(t, store, "https://portal.cl/a", &later)

	s := New(config.SchedulerConfig{Workers: 1}, &fakeRunner{}, store, nil)

	require.NoError(t, store.EnqueueCommand(models.CmdPause, nil))
	s.processCommands(context.Background())
	assert.True(t, s.IsPaused())

	require.NoError(t, store.EnqueueCommand(models.CmdResume, nil))
	require.NoError(t, store.EnqueueCommand(models.CmdResetPending, nil))
	s.processCommands(context.Background())
	assert.False(t, s.IsPaused())

	src, err := store.GetSource(id)
	require.NoError(t, err)
	assert.Nil(t, src.NextRunAt)
	assert.True(t, src.IsDue(time.Now()))
}

func TestProcessCommands_RunSourceWithoutIDIsDropped(t *testing.T) {
	store := newStore(t)
	runner := &fakeRunner{}
	s := New(config.SchedulerConfig{Workers: 1}, runner, store, nil)

	require.NoError(t, store.EnqueueCommand(models.CmdRunSource, nil))
	s.processCommands(context.Background())
	s.Stop()

	assert.Empty(t, runner.called())
	pending, err := store.GetPendingCommands()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStart_RejectsBadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "not a cron"}, &fakeRunner{}, newStore(t), nil)
	assert.Error(t, s.Start(context.Background()))
}
