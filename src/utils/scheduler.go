package utils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tickfeed/src/logger"

	"github.com/robfig/cron/v3"
)

// -----------------------------------------------------------------------------

// UpdateScheduler triggers incremental update cycles on a cron schedule. A
// tick that fires while the previous run is still going is skipped.
type UpdateScheduler struct {
	Cron   *cron.Cron
	Logger *logger.Logger

	ctx     context.Context
	running atomic.Bool
	skipped atomic.Int64
	wg      sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewUpdateScheduler(ctx context.Context, log *logger.Logger) *UpdateScheduler {
	return &UpdateScheduler{
		Cron:   cron.New(cron.WithSeconds()),
		Logger: log,
		ctx:    ctx,
	}
}

// -----------------------------------------------------------------------------

// Register adds job under the six field cron expression spec.
func (s *UpdateScheduler) Register(spec string, job func(ctx context.Context)) error {
	if _, err := s.Cron.AddFunc(spec, func() { s.RunNow(job) }); err != nil {
		return fmt.Errorf("register update task '%s': %w", spec, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// RunNow executes job unless another run is in progress. It reports whether
// the job ran.
func (s *UpdateScheduler) RunNow(job func(ctx context.Context)) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.Logger.Warning("Previous update cycle still running, skipping tick")
		return false
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()
	job(s.ctx)
	return true
}

// -----------------------------------------------------------------------------

// Skipped returns how many ticks were dropped because of overlap.
func (s *UpdateScheduler) Skipped() int64 {
	return s.skipped.Load()
}

// -----------------------------------------------------------------------------

func (s *UpdateScheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("Scheduler started")
}

// -----------------------------------------------------------------------------

// Stop stops the cron scheduler and waits for a running cycle to finish.
func (s *UpdateScheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.wg.Wait()
	s.Logger.Info("Scheduler stopped")
}
