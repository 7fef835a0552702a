// Package scheduler runs the daemon's periodic maintenance jobs.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TokenPurger deletes verification and recovery tokens past their grace
// period. *kairosauth.Engine implements it.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	purger  TokenPurger
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a scheduler. Panicking jobs are recovered and logged.
func New(purger TokenPurger, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:    c,
		purger:  purger,
		logger:  logger,
		timeout: time.Minute,
	}
}

// Start registers the purge job on schedule and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.PurgeTokens); err != nil {
		s.logger.Error("failed to schedule token purge job", zap.String("schedule", schedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled token purge job", zap.String("schedule", schedule))
	s.cron.Start()
	return nil
}

// Stop stops the cron loop. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PurgeTokens runs one purge pass.
func (s *Scheduler) PurgeTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.purger.PurgeExpiredTokens(ctx)
	if err != nil {
		s.logger.Error("token purge failed", zap.Error(err))
		return
	}
	s.logger.Info("token purge finished", zap.Int64("deleted", n))
}
