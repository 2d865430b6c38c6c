// Package harvest schedules the vault's periodic maintenance jobs.
package harvest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oasisprotocol/yieldvault/log"
	"github.com/oasisprotocol/yieldvault/metrics"
	"github.com/oasisprotocol/yieldvault/sandbox"
	"github.com/oasisprotocol/yieldvault/storage/kvstore"
)

const moduleName = "harvest"

// Job names.
const (
	JobClaimRewards = "claim_rewards"
	JobAccrue       = "accrue"
	JobDistribute   = "distribute"
	JobCheckpoint   = "checkpoint"
	JobGauges       = "gauges"
)

// JobFunc is one maintenance task.
type JobFunc func(ctx context.Context) error

// Service runs jobs on cron schedules. A failing job is logged and retried
// at its next tick; it never stops the scheduler.
type Service struct {
	cron    *cron.Cron
	jobs    map[string]JobFunc
	specs   map[string]string
	metrics metrics.VaultMetrics
	logger  *log.Logger

	// Guards ctx, which is set while Run is active.
	mu  sync.Mutex
	ctx context.Context
}

// NewService schedules every job that has a spec. Specs without a job are
// an error.
func NewService(specs map[string]string, jobs map[string]JobFunc, m metrics.VaultMetrics, logger *log.Logger) (*Service, error) {
	logger = logger.WithModule(moduleName)
	s := &Service{
		jobs:    jobs,
		specs:   specs,
		metrics: m,
		logger:  logger,
		ctx:     context.Background(),
	}
	cl := cronLogger{logger}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	), cron.WithLogger(cl))

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := jobs[name]; !ok {
			return nil, fmt.Errorf("harvest: unknown job '%s'", name)
		}
		name := name
		if _, err := s.cron.AddFunc(specs[name], func() { _ = s.RunJob(s.runContext(), name) }); err != nil {
			return nil, fmt.Errorf("harvest: scheduling %s: %w", name, err)
		}
		logger.Info("job scheduled", "job", name, "spec", specs[name])
	}
	return s, nil
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.specs))
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunJob runs the named job now.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("harvest: unknown job '%s'", name)
	}
	op := "job_" + name
	timer := s.metrics.Latencies(op)
	defer timer.ObserveDuration()

	start := time.Now()
	s.logger.Debug("job started", "job", name)
	if err := job(ctx); err != nil {
		s.metrics.Operations(op, "failure").Inc()
		s.logger.Error("job failed", "job", name, "err", err, "took", time.Since(start))
		return err
	}
	s.metrics.Operations(op, "ok").Inc()
	s.logger.Debug("job finished", "job", name, "took", time.Since(start))
	return nil
}

// Jobs returns the maintenance jobs of a sandbox world. The checkpoint job
// is only offered when store is non-nil.
func Jobs(w *sandbox.World, store kvstore.KVStore, logger *log.Logger) map[string]JobFunc {
	jobs := map[string]JobFunc{
		JobClaimRewards: func(ctx context.Context) error {
			claimed, err := w.Engine.ClaimRewards(ctx, w.Engine.Admin())
			if err != nil {
				return err
			}
			if claimed.Sign() > 0 {
				logger.Info("claimed rewards", "amount", claimed)
			}
			return nil
		},
		JobAccrue: func(ctx context.Context) error {
			interest, err := w.AccrueAll(ctx)
			if err != nil {
				return err
			}
			logger.Debug("accrued interest", "amount", interest)
			return nil
		},
		JobDistribute: func(ctx context.Context) error {
			_, err := w.Distribute(ctx)
			return err
		},
		JobGauges: func(ctx context.Context) error {
			return w.Engine.RefreshMetrics(ctx)
		},
	}
	if store != nil {
		jobs[JobCheckpoint] = func(ctx context.Context) error {
			return w.Checkpoint(ctx, store)
		}
	}
	return jobs
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

// Info implements cron.Logger. Cron's info lines are per-tick chatter.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

// Error implements cron.Logger.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
