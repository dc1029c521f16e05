package services

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"inmobiscrap/logging"
	"inmobiscrap/models"
)

// MaxErrorLength caps error text stored on sources and runs.
const MaxErrorLength = 500

// RunStore is the slice of the operational store RunTracker writes to.
type RunStore interface {
	UpdateSource(src *models.Source) error
	CreateRun(run *models.RunRecord) (int64, error)
	FinishRun(run *models.RunRecord) error
	Log(runID *int64, level models.LogLevel, message string, sourceID int64) error
}

// RunTracker owns the run state machine (started, then exactly one of
// completed, partial or failed) and the source counters that go with it.
type RunTracker struct {
	store  RunStore
	logger *zap.Logger
	now    func() time.Time
}

func NewRunTracker(store RunStore, logger *zap.Logger) *RunTracker {
	return &RunTracker{store: store, logger: logging.OrNop(logger), now: time.Now}
}

// Run is an open run handle.
type Run struct {
	Record *models.RunRecord
	Source *models.Source

	once sync.Once
}

// Result is what the orchestrator hands to Finish.
type Result struct {
	Stats       ProcessStats
	Attempts    int
	Diagnostics models.RunDiagnostics
	// Err is set when the run failed as a whole.
	Err error
}

// Start marks src in progress and opens a run record for it.
func (t *RunTracker) Start(src *models.Source) (*Run, error) {
	now := t.now()

	src.Status = models.SourceStatusInProgress
	src.LastRunAt = &now
	if err := t.store.UpdateSource(src); err != nil {
		return nil, fmt.Errorf("mark source %d in progress: %w", src.ID, err)
	}

	rec := &models.RunRecord{SourceID: src.ID, Status: models.RunStatusStarted, StartedAt: now}
	if _, err := t.store.CreateRun(rec); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	run := &Run{Record: rec, Source: src}
	t.Log(run, models.LogLevelInfo, fmt.Sprintf("Starting scrape of %s", src.URL))
	return run, nil
}

// Touch rewrites the in-progress source so its updated_at stays fresh while a
// long run retries. Stale-run reclaim keys off that timestamp.
func (t *RunTracker) Touch(run *Run) error {
	if err := t.store.UpdateSource(run.Source); err != nil {
		return fmt.Errorf("touch source %d: %w", run.Source.ID, err)
	}
	return nil
}

// Log writes a line to both the structured log and the run's log table.
func (t *RunTracker) Log(run *Run, level models.LogLevel, message string) {
	fields := []zap.Field{zap.Int64("source_id", run.Source.ID), zap.Int64("run_id", run.Record.ID)}
	switch level {
	case models.LogLevelError:
		t.logger.Error(message, fields...)
	case models.LogLevelWarn:
		t.logger.Warn(message, fields...)
	default:
		t.logger.Info(message, fields...)
	}

	if err := t.store.Log(&run.Record.ID, level, message, run.Source.ID); err != nil {
		t.logger.Warn("persist run log", zap.Error(err))
	}
}

// Status derives the terminal status from a result.
func Status(res Result) models.RunStatus {
	switch {
	case res.Err != nil:
		return models.RunStatusFailed
	case res.Stats.Failed > 0:
		return models.RunStatusPartial
	default:
		return models.RunStatusCompleted
	}
}

// Finish closes the run and applies the outcome to the source. Only the
// first call has any effect.
func (t *RunTracker) Finish(run *Run, res Result) (*models.RunSummary, error) {
	var err error
	run.once.Do(func() {
		err = t.finish(run, res)
	})
	return summarize(run), err
}

func (t *RunTracker) finish(run *Run, res Result) error {
	now := t.now()
	rec := run.Record
	src := run.Source

	res.Diagnostics.Attempts = res.Attempts
	diag, _ := json.Marshal(res.Diagnostics)

	rec.Status = Status(res)
	rec.FinishedAt = &now
	rec.ElapsedSeconds = round2(now.Sub(rec.StartedAt).Seconds())
	rec.Found = res.Stats.Found
	rec.Created = res.Stats.Created
	rec.Updated = res.Stats.Updated
	rec.Failed = res.Stats.Failed
	rec.Diagnostics = diag
	if res.Err != nil {
		rec.Error = Truncate(res.Err.Error(), MaxErrorLength)
	}

	freq := src.FrequencyHours
	if freq <= 0 {
		freq = 24
	}
	next := now.Add(time.Duration(freq) * time.Hour)
	src.NextRunAt = &next
	src.TotalRuns++
	if rec.Status == models.RunStatusFailed {
		src.Status = models.SourceStatusFailed
		src.FailedRuns++
		src.LastError = rec.Error
	} else {
		src.Status = models.SourceStatusCompleted
		src.SuccessfulRuns++
	}

	level, msg := models.LogLevelInfo, fmt.Sprintf("Finished %s: %d found, %d created, %d updated, %d failed",
		rec.Status, rec.Found, rec.Created, rec.Updated, rec.Failed)
	if rec.Status == models.RunStatusFailed {
		level, msg = models.LogLevelError, "Run failed: "+rec.Error
	}
	t.Log(run, level, msg)

	if err := t.store.FinishRun(rec); err != nil {
		return fmt.Errorf("finish run %d: %w", rec.ID, err)
	}
	if err := t.store.UpdateSource(src); err != nil {
		return fmt.Errorf("update source %d: %w", src.ID, err)
	}
	return nil
}

func summarize(run *Run) *models.RunSummary {
	rec := run.Record
	var attempts int
	if len(rec.Diagnostics) > 0 {
		var d models.RunDiagnostics
		if json.Unmarshal(rec.Diagnostics, &d) == nil {
			attempts = d.Attempts
		}
	}
	return &models.RunSummary{
		SourceID:       rec.SourceID,
		RunID:          rec.ID,
		Status:         rec.Status,
		Found:          rec.Found,
		Created:        rec.Created,
		Updated:        rec.Updated,
		Failed:         rec.Failed,
		Attempts:       attempts,
		ElapsedSeconds: rec.ElapsedSeconds,
		Error:          rec.Error,
	}
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
