// Package cron runs the service's background jobs on robfig/cron schedules.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Jobs never overlap with themselves and a
// panicking job is recovered and logged.
type Scheduler struct {
	cron    *cron.Cron
	log     logrus.FieldLogger
	timeout time.Duration
	ctx     context.Context
}

// NewScheduler creates a stopped scheduler. Each run is bounded by timeout.
func NewScheduler(log logrus.FieldLogger, timeout time.Duration) *Scheduler {
	log = log.WithField("component", "cron")
	logger := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		log:     log,
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// Add schedules job under spec (e.g. "@every 5m"). "off" skips scheduling.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "off" {
		s.log.WithField("job", name).Info("job disabled")
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("job scheduled")
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	entry := s.log.WithField("job", name)
	if err := job(ctx); err != nil {
		entry.WithError(err).Error("job failed")
		return
	}
	entry.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("job finished")
}

// Start runs scheduled jobs in the background. Job contexts derive from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop halts scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
