package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/smarttransit/afc-backend/internal/config"
	"github.com/smarttransit/afc-backend/internal/metrics"
)

// Expirer is one lifecycle's time-based transition, split so the sweeper can
// fan candidates out to workers. ExpireOne re-checks the entity under lock.
type Expirer interface {
	ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ExpireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// SweepJob binds an expirer to its schedule
type SweepJob struct {
	Name     string
	Schedule string
	Expirer  Expirer
}

// SweeperService runs the expiry sweeps on cron schedules
type SweeperService struct {
	cron   *cron.Cron
	jobs   map[string]SweepJob
	config config.SweeperConfig
	logger *logrus.Logger
	now    clock
	sleep  func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweeperService creates a sweeper for the given jobs
func NewSweeperService(cfg config.SweeperConfig, logger *logrus.Logger, jobs ...SweepJob) *SweeperService {
	// Overlapping runs of one sweep are skipped, not queued
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &SweeperService{
		cron:   c,
		jobs:   make(map[string]SweepJob, len(jobs)),
		config: cfg,
		logger: logger,
		now:    systemClock,
		sleep:  sleepContext,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, job := range jobs {
		s.jobs[job.Name] = job
	}
	return s
}

// Start schedules every sweep and starts the scheduler
func (s *SweeperService) Start() error {
	for _, job := range s.jobs {
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) }); err != nil {
			return fmt.Errorf("failed to schedule %s sweep: %w", job.Name, err)
		}
		s.logger.WithFields(logrus.Fields{
			"sweeper":  job.Name,
			"schedule": job.Schedule,
		}).Info("Scheduled expiry sweep")
	}

	s.cron.Start()
	s.logger.Info("Sweeper service started")
	return nil
}

// Stop cancels in-flight sweeps and waits for them to return
func (s *SweeperService) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Sweeper service stopped")
}

// RunOnce sweeps one lifecycle immediately, without retries
func (s *SweeperService) RunOnce(ctx context.Context, name string) (int, error) {
	job, ok := s.jobs[name]
	if !ok {
		return 0, fmt.Errorf("unknown sweeper %q", name)
	}
	return s.sweep(ctx, job)
}

// run is the scheduled body. A failed iteration backs off and retries; it
// never takes the process down.
func (s *SweeperService) run(job SweepJob) {
	log := s.logger.WithField("sweeper", job.Name)
	start := time.Now()

	delay := s.config.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		expired, err := s.sweep(s.ctx, job)
		if err == nil {
			metrics.SweeperRuns.WithLabelValues(job.Name, "success").Inc()
			log.WithFields(logrus.Fields{
				"expired":     expired,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("Expiry sweep finished")
			return
		}

		if attempt >= s.config.RetryAttempts || s.ctx.Err() != nil {
			metrics.SweeperRuns.WithLabelValues(job.Name, "failed").Inc()
			log.WithError(err).WithField("attempts", attempt).Error("Expiry sweep failed, waiting for next schedule")
			return
		}

		metrics.SweeperRuns.WithLabelValues(job.Name, "retry").Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Expiry sweep failed, retrying")

		if err := s.sleep(s.ctx, delay); err != nil {
			return
		}
		delay *= 2
		if delay > s.config.RetryMaxDelay {
			delay = s.config.RetryMaxDelay
		}
	}
}

// sweep expires one batch. Only a failure to list candidates fails the
// iteration; per-entity errors are logged and skipped.
func (s *SweeperService) sweep(ctx context.Context, job SweepJob) (int, error) {
	now := s.now()
	ids, err := job.Expirer.ExpiryCandidates(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s expiry candidates: %w", job.Name, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	workers := s.config.Workers
	if workers <= 0 {
		workers = 1
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ok, err := job.Expirer.ExpireOne(gctx, id, now)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"sweeper":   job.Name,
					"entity_id": id,
				}).Warn("Failed to expire entity")
				return nil
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(expired.Load())
	metrics.SweeperExpired.WithLabelValues(job.Name).Add(float64(n))
	return n, nil
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
