// Package scheduler runs the periodic background jobs that keep the sandbox
// fleet within its resource bounds: currently a single cron entry that sweeps
// idle per-user containers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openpact/sandboxbot/internal/logging"
	"github.com/openpact/sandboxbot/internal/sandbox"
)

// Sweeper is the subset of *sandbox.Manager the scheduler depends on.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// Scheduler runs cron-registered maintenance jobs. It currently has a single
// job (the sandbox TTL sweep), but keeps the registration/panic-recovery
// shape of a general job runner so new periodic jobs have somewhere to go.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	sweeper Sweeper

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// Config holds scheduler configuration.
type Config struct {
	// SweepInterval is a cron expression (robfig/cron syntax, including
	// "@every" shorthand) controlling how often idle sandboxes are swept.
	SweepInterval string
}

// New builds a Scheduler that will sweep sweeper on the configured interval
// once Start is called.
func New(sweeper Sweeper, cfg Config, logger *logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.SweepInterval == "" {
		cfg.SweepInterval = "@every 3m"
	}

	s := &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		sweeper: sweeper,
	}

	entryID, err := s.cron.AddFunc(cfg.SweepInterval, s.runSweep)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep interval %q: %w", cfg.SweepInterval, err)
	}
	s.entryID = entryID

	return s, nil
}

// Start begins running registered cron jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started, next sweep at %s", s.nextRunLocked())
}

// Stop halts the cron runner and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("scheduler stopped")
}

// RunSweepNow triggers an out-of-band sweep, e.g. from an admin command.
func (s *Scheduler) RunSweepNow() {
	go s.runSweep()
}

func (s *Scheduler) nextRunLocked() time.Time {
	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// runSweep executes the TTL sweep with panic recovery, matching the
// defensive wrapping every cron job gets regardless of what it does.
func (s *Scheduler) runSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during sandbox sweep: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s.logger.Debug("running sandbox TTL sweep")
	s.sweeper.Sweep(ctx)
}

var _ Sweeper = (*sandbox.Manager)(nil)
