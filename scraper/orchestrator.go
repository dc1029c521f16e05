package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inmobiscrap/extractor"
	"inmobiscrap/lease"
	"inmobiscrap/logging"
	"inmobiscrap/metrics"
	"inmobiscrap/models"
	"inmobiscrap/reduce"
	"inmobiscrap/services"
)

// SourceStore looks up sources by id; a missing source is (nil, nil).
type SourceStore interface {
	GetSource(id int64) (*models.Source, error)
}

// Archiver stores the raw and reduced page of a run.
type Archiver interface {
	Put(ctx context.Context, sourceID, runID int64, raw, reduced string) (string, error)
}

// Deps are the collaborators of an Orchestrator. Archive, LLM, Metrics and
// Logger are optional.
type Deps struct {
	Sources    SourceStore
	Tracker    *services.RunTracker
	Properties *services.PropertyService
	Fetcher    Fetcher
	Reducer    *reduce.Reducer
	Heuristic  *extractor.HeuristicExtractor
	LLM        *extractor.LLMExtractor
	Extraction extractor.ExtractionConfig
	Locker     lease.Locker
	LeaseTTL   time.Duration
	Retry      RetryPolicy
	Archive    Archiver
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Orchestrator runs the fetch, reduce, extract, reconcile and persist
// pipeline for one source at a time. It is safe for concurrent use on
// different sources.
type Orchestrator struct {
	Deps
	sleep func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(deps Deps) *Orchestrator {
	deps.Logger = logging.OrNop(deps.Logger)
	if deps.Locker == nil {
		deps.Locker = lease.NewMemoryLocker()
	}
	if deps.LeaseTTL <= 0 {
		deps.LeaseTTL = 30 * time.Minute
	}
	if deps.Retry.MaxRetries == 0 && deps.Retry.BaseDelay == 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	return &Orchestrator{Deps: deps, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunPipeline scrapes one source. Expected failures (network, empty pages,
// bad records) end up in the returned summary; the error is reserved for
// an unknown source, a held lease or a broken operational store.
func (o *Orchestrator) RunPipeline(ctx context.Context, sourceID int64) (*models.RunSummary, error) {
	src, err := o.Sources.GetSource(sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source %d: %w", sourceID, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %d", ErrSourceNotFound, sourceID)
	}

	claim, err := o.Locker.Acquire(ctx, lease.SourceKey(sourceID), o.LeaseTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := claim.Release(context.WithoutCancel(ctx)); err != nil {
			o.Logger.Warn("release lease", zap.String("key", claim.Key()), zap.Error(err))
		}
	}()

	run, err := o.Tracker.Start(src)
	if err != nil {
		return nil, err
	}

	origin := models.Origin{SourceID: src.ID, SourceURL: src.URL, SiteName: src.SiteName}
	res := services.Result{}
	maxAttempts := o.Retry.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		stats, diag, err := o.attempt(ctx, run, origin)
		res.Stats, res.Diagnostics, res.Err = stats, diag, err
		if err == nil {
			break
		}

		o.Tracker.Log(run, models.LogLevelWarn, fmt.Sprintf("Attempt %d/%d failed: %v", attempt, maxAttempts, err))
		if attempt == maxAttempts {
			break
		}

		delay := o.Retry.Delay(attempt)
		o.Metrics.IncRetry()
		o.Tracker.Log(run, models.LogLevelInfo, fmt.Sprintf("Retrying in %s", delay))
		if err := o.sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("retry aborted: %w", err)
			break
		}
		if err := claim.Extend(ctx, o.LeaseTTL); err != nil {
			res.Err = fmt.Errorf("retry aborted, lease on %s lost: %w", claim.Key(), err)
			break
		}
		if err := o.Tracker.Touch(run); err != nil {
			o.Logger.Warn("touch source", zap.Int64("source_id", src.ID), zap.Error(err))
		}
	}

	summary, err := o.Tracker.Finish(run, res)
	o.Metrics.IncRun(string(summary.Status))
	return summary, err
}

// attempt runs the pipeline once. Any returned error is a *PipelineFatal;
// record-level failures only show up in the stats.
func (o *Orchestrator) attempt(ctx context.Context, run *services.Run, origin models.Origin) (services.ProcessStats, models.RunDiagnostics, error) {
	var stats services.ProcessStats
	var diag models.RunDiagnostics

	html, err := o.Fetcher.Fetch(ctx, origin.SourceURL)
	if err != nil {
		return stats, diag, &PipelineFatal{Stage: "fetch", Err: err}
	}

	reduced := o.Reducer.Reduce(html)
	diag.HTMLSizeOriginalKB = reduced.Stats.OriginalKB()
	diag.HTMLSizeCleanKB = reduced.Stats.ReducedKB()
	diag.HTMLReductionPct = reduced.Stats.ReductionPct
	diag.ReductionMode = string(reduced.Mode)
	diag.Truncated = reduced.Truncated
	o.Metrics.ObserveReduction(reduced.Stats.Ratio())
	if reduced.Truncated {
		o.Tracker.Log(run, models.LogLevelWarn, fmt.Sprintf("Content truncated to %d characters", o.Reducer.Budget()))
	}

	if o.Archive != nil {
		key, err := o.Archive.Put(ctx, origin.SourceID, run.Record.ID, html, reduced.Content)
		if err != nil {
			o.Tracker.Log(run, models.LogLevelWarn, fmt.Sprintf("Snapshot upload failed: %v", err))
		}
		diag.SnapshotKey = key
	}

	heuristic := o.Heuristic.Extract(reduced.CleanHTML)
	diag.HeuristicCandidates = len(heuristic)

	var llm []models.RawListing
	if o.LLM != nil {
		llm, err = o.LLM.Extract(ctx, o.Extraction, reduced.Content, origin.SourceURL)
		if err != nil {
			o.Metrics.IncLLM("error")
			o.Tracker.Log(run, models.LogLevelWarn, fmt.Sprintf("LLM extraction unavailable: %v", err))
		} else {
			o.Metrics.IncLLM("ok")
		}
	}
	diag.LLMCandidates = len(llm)

	merged := extractor.Merge(heuristic, llm)
	diag.MergedCandidates = len(merged)
	o.Tracker.Log(run, models.LogLevelInfo, fmt.Sprintf("Candidates: %d heuristic, %d llm, %d merged",
		len(heuristic), len(llm), len(merged)))
	if len(merged) == 0 {
		return stats, diag, &PipelineFatal{Stage: "extract", Err: ErrNoCandidates}
	}

	for _, rec := range merged {
		result, err := o.Properties.Process(ctx, rec, origin)
		stats.Aggregate(result)
		o.Metrics.IncRecord(string(result.Outcome))
		if err == nil {
			continue
		}

		var perr *services.PersistenceError
		switch {
		case services.IsRejection(err):
			o.Tracker.Log(run, models.LogLevelWarn, "Rejected record without title or price")
		case errors.As(err, &perr):
			o.Tracker.Log(run, models.LogLevelError, perr.Error())
		default:
			o.Tracker.Log(run, models.LogLevelError, err.Error())
		}
	}

	return stats, diag, nil
}
