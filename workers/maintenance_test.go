package workers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inmobiscrap/models"
	"inmobiscrap/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "maint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMaintenance_CleanupOldRuns(t *testing.T) {
	store := newStore(t)
	old := &models.RunRecord{SourceID: 1, Status: models.RunStatusStarted, StartedAt: time.Now().AddDate(0, 0, -45)}
	_, err := store.CreateRun(old)
	require.NoError(t, err)
	old.Status = models.RunStatusFailed
	require.NoError(t, store.FinishRun(old))

	var lines []string
	w := NewMaintenanceWorker(store, 30, 5, time.Minute, nil)
	w.SetLogger(func(_ models.LogLevel, message string) { lines = append(lines, message) })

	runs, _, err := w.CleanupOldRuns()
	require.NoError(t, err)
	assert.Equal(t, int64(1), runs)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Removed 1 runs")
}

func TestMaintenance_DeactivateAndReclaim(t *testing.T) {
	store := newStore(t)
	bad := &models.Source{URL: "https://portal.cl/bad", SiteName: "Portal", Active: true}
	_, err := store.CreateSource(bad)
	require.NoError(t, err)
	bad.FailedRuns = 6
	require.NoError(t, store.UpdateSource(bad))

	stuck := &models.Source{URL: "https://portal.cl/stuck", SiteName: "Portal", Active: true}
	_, err = store.CreateSource(stuck)
	require.NoError(t, err)
	stuck.Status = models.SourceStatusInProgress
	require.NoError(t, store.UpdateSource(stuck))

	w := NewMaintenanceWorker(store, 30, 5, 30*time.Minute, nil)

	n, err := w.DeactivateFailing()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = w.ReclaimStale()
	require.NoError(t, err)
	assert.Zero(t, n, "a fresh claim is left alone")

	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = w.ReclaimStale()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := store.GetSource(stuck.ID)
	assert.Equal(t, models.SourceStatusPending, got.Status)
}

type brokenStore struct{}

func (brokenStore) DeleteRunsBefore(time.Time) (int64, int64, error) { return 0, 0, errors.New("locked") }
func (brokenStore) DeactivateFailingSources(int) (int64, error) { return 0, errors.New("locked") }
func (brokenStore) ResetInProgress(time.Time) (int64, error) { return 0, errors.New("locked") }

func TestMaintenance_RunAllSurvivesErrors(t *testing.T) {
	w := NewMaintenanceWorker(brokenStore{}, 0, 0, 0, nil)
	assert.NotPanics(t, w.RunAll)
}

func TestMaintenance_TriggerRunsOnce(t *testing.T) {
	store := newStore(t)
	w := NewMaintenanceWorker(store, 30, 5, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, time.Hour)
		close(done)
	}()

	w.Trigger()
	w.Trigger()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
