package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inmobiscrap/config"
	"inmobiscrap/lease"
	"inmobiscrap/logging"
	"inmobiscrap/models"
)

const (
	commandPollInterval = 2 * time.Second
	maintenanceSpec     = "30 3 * * *"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Runner runs the pipeline for one source.
type Runner interface {
	RunPipeline(ctx context.Context, sourceID int64) (*models.RunSummary, error)
}

// Store is the operational store surface the scheduler reads and updates.
type Store interface {
	DueSources(now time.Time, limit int) ([]models.Source, error)
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	ParseCommandParams(cmd *models.Command) (*models.CommandParams, error)
	SetSourceActive(id int64, active bool) error
	ResetPending() (int64, error)
}

// Scheduler dispatches due sources on a cron spec (or a fixed interval) with
// bounded concurrency and serves the command queue.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runner Runner
	store  Store
	logger *zap.Logger
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time

	maintenance Triggerable
	paused      atomic.Bool

	mu       sync.Mutex
	inflight map[int64]bool
}

func New(cfg config.SchedulerConfig, runner Runner, store Store, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		loc = time.Local
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		logger:   logging.OrNop(logger),
		cron:     cron.New(cron.WithLocation(loc)),
		stopCh:   make(chan struct{}),
		now:      time.Now,
		inflight: make(map[int64]bool),
	}
}

// SetMaintenance registers the worker triggered nightly and by command.
func (s *Scheduler) SetMaintenance(w Triggerable) {
	s.maintenance = w
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.maintenance != nil {
		if _, err := s.cron.AddFunc(maintenanceSpec, s.maintenance.Trigger); err != nil {
			return fmt.Errorf("schedule maintenance: %w", err)
		}
	}

	switch {
	case s.cfg.Cron != "":
		s.logger.Info("starting scheduler", zap.String("cron", s.cfg.Cron), zap.Int("workers", s.cfg.Workers))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.dispatch(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case s.cfg.Interval > 0:
		s.logger.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval), zap.Int("workers", s.cfg.Workers))
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.dispatch(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		s.logger.Info("no schedule configured, daemon will only respond to commands")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollCommands(ctx)
	}()

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) Pause()         { s.paused.Store(true) }
func (s *Scheduler) Resume()        { s.paused.Store(false) }
func (s *Scheduler) IsPaused() bool { return s.paused.Load() }

func (s *Scheduler) dispatch(ctx context.Context) {
	if _, err := s.DispatchDue(ctx); err != nil {
		s.logger.Error("dispatch due sources", zap.Error(err))
	}
}

// DispatchDue runs every due source, at most cfg.Workers at a time, and
// returns once they have all finished. Sources already running in this
// process are skipped.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	if s.IsPaused() {
		s.logger.Debug("scheduler paused, skipping dispatch")
		return 0, nil
	}

	due, err := s.store.DueSources(s.now(), 0)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)

	dispatched := 0
	for _, src := range due {
		if !s.claim(src.ID) {
			continue
		}
		dispatched++
		id := src.ID
		g.Go(func() error {
			defer s.release(id)
			s.runOne(ctx, id)
			return nil
		})
	}
	g.Wait()

	if dispatched > 0 {
		s.logger.Info("dispatch finished", zap.Int("sources", dispatched))
	}
	return dispatched, nil
}

// RunSource runs one source in the background.
func (s *Scheduler) RunSource(ctx context.Context, sourceID int64) bool {
	if !s.claim(sourceID) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sourceID)
		s.runOne(ctx, sourceID)
	}()
	return true
}

func (s *Scheduler) runOne(ctx context.Context, sourceID int64) {
	summary, err := s.runner.RunPipeline(ctx, sourceID)
	switch {
	case errors.Is(err, lease.ErrHeld):
		s.logger.Info("source already claimed elsewhere", zap.Int64("source_id", sourceID))
	case err != nil:
		s.logger.Error("run pipeline", zap.Int64("source_id", sourceID), zap.Error(err))
	default:
		s.logger.Info("run finished",
			zap.Int64("source_id", sourceID),
			zap.String("status", string(summary.Status)),
			zap.Int("found", summary.Found),
			zap.Int("created", summary.Created),
			zap.Int("updated", summary.Updated),
			zap.Int("failed", summary.Failed),
			zap.Float64("elapsed_seconds", summary.ElapsedSeconds))
	}
}

func (s *Scheduler) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.store.GetPendingCommands()
	if err != nil {
		s.logger.Error("get pending commands", zap.Error(err))
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		s.logger.Info("processing command", zap.String("command", string(cmd.Command)))
		if err := s.handleCommand(ctx, cmd); err != nil {
			s.logger.Error("command failed", zap.String("command", string(cmd.Command)), zap.Error(err))
		}
		if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
			s.logger.Error("mark command processed", zap.Int64("id", cmd.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.store.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdRunSource:
		if params.SourceID == 0 {
			return fmt.Errorf("%s needs a source_id", cmd.Command)
		}
		s.RunSource(ctx, params.SourceID)
	case models.CmdRunDue:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(ctx)
		}()
	case models.CmdPause:
		if params.SourceID != 0 {
			return s.store.SetSourceActive(params.SourceID, false)
		}
		s.Pause()
		s.logger.Info("scheduler paused")
	case models.CmdResume:
		if params.SourceID != 0 {
			return s.store.SetSourceActive(params.SourceID, true)
		}
		s.Resume()
		s.logger.Info("scheduler resumed")
	case models.CmdResetPending:
		n, err := s.store.ResetPending()
		if err != nil {
			return err
		}
		s.logger.Info("sources reset to pending", zap.Int64("count", n))
	case models.CmdMaintenance:
		if s.maintenance != nil {
			s.maintenance.Trigger()
		}
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}
