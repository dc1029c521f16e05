package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inmobiscrap/logging"
	"inmobiscrap/models"
)

// MaintenanceStore is the operational store surface the worker needs.
type MaintenanceStore interface {
	DeleteRunsBefore(cutoff time.Time) (runs int64, logs int64, err error)
	DeactivateFailingSources(threshold int) (int64, error)
	ResetInProgress(cutoff time.Time) (int64, error)
}

// MaintenanceWorker keeps the operational tables tidy: it drops old runs and
// logs, disables sources that never succeed, and reclaims sources stuck in
// progress after their lease ran out.
type MaintenanceWorker struct {
	store            MaintenanceStore
	retentionDays    int
	failureThreshold int
	leaseTTL         time.Duration
	triggerCh        chan struct{}
	logFunc          LogFunc
	logger           *zap.Logger
	now              func() time.Time
}

func NewMaintenanceWorker(store MaintenanceStore, retentionDays, failureThreshold int, leaseTTL time.Duration, logger *zap.Logger) *MaintenanceWorker {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Minute
	}
	return &MaintenanceWorker{
		store:            store,
		retentionDays:    retentionDays,
		failureThreshold: failureThreshold,
		leaseTTL:         leaseTTL,
		triggerCh:        make(chan struct{}, 1),
		logFunc:          NoOpLogger,
		logger:           logging.OrNop(logger),
		now:              time.Now,
	}
}

func (w *MaintenanceWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *MaintenanceWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run reclaims stale sources every interval and runs the full pass when
// triggered. It returns when ctx is done.
func (w *MaintenanceWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("maintenance worker stopping")
			return
		case <-ticker.C:
			if _, err := w.ReclaimStale(); err != nil {
				w.logger.Error("reclaim stale sources", zap.Error(err))
			}
		case <-w.triggerCh:
			w.logger.Info("maintenance worker triggered")
			w.RunAll()
		}
	}
}

// RunAll runs every maintenance task, logging failures and carrying on.
func (w *MaintenanceWorker) RunAll() {
	if _, _, err := w.CleanupOldRuns(); err != nil {
		w.logger.Error("cleanup old runs", zap.Error(err))
	}
	if _, err := w.DeactivateFailing(); err != nil {
		w.logger.Error("deactivate failing sources", zap.Error(err))
	}
	if _, err := w.ReclaimStale(); err != nil {
		w.logger.Error("reclaim stale sources", zap.Error(err))
	}
}

// CleanupOldRuns deletes finished runs and logs past the retention window.
func (w *MaintenanceWorker) CleanupOldRuns() (int64, int64, error) {
	cutoff := w.now().AddDate(0, 0, -w.retentionDays)
	runs, logs, err := w.store.DeleteRunsBefore(cutoff)
	if err != nil {
		return 0, 0, err
	}
	if runs > 0 || logs > 0 {
		w.report(fmt.Sprintf("Removed %d runs and %d log lines older than %d days", runs, logs, w.retentionDays))
	}
	return runs, logs, nil
}

// DeactivateFailing disables sources that reached the failure threshold
// without ever succeeding.
func (w *MaintenanceWorker) DeactivateFailing() (int64, error) {
	n, err := w.store.DeactivateFailingSources(w.failureThreshold)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.report(fmt.Sprintf("Deactivated %d sources with %d+ failures and no success", n, w.failureThreshold))
	}
	return n, nil
}

// ReclaimStale puts in-progress sources back to pending once they have been
// untouched for longer than a lease lives.
func (w *MaintenanceWorker) ReclaimStale() (int64, error) {
	n, err := w.store.ResetInProgress(w.now().Add(-w.leaseTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.report(fmt.Sprintf("Reclaimed %d sources stuck in progress", n))
	}
	return n, nil
}

func (w *MaintenanceWorker) report(message string) {
	w.logger.Info(message)
	w.logFunc(models.LogLevelInfo, message)
}
