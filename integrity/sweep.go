package integrity

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Sweeper runs the orphan reconciliation on a fixed interval. It is the
// safety net behind SafeInsertTasks: validate-before-write cannot see runs
// deleted after their tasks were created, so the sweep re-derives the orphan
// set from scratch each pass and remediates under the configured policy.
type Sweeper struct {
	guard     *Guard
	policy    string
	interval  time.Duration
	scheduler *gocron.Scheduler
	logger    *zap.SugaredLogger
}

// NewSweeper creates a sweeper over the guard. interval must be positive.
func NewSweeper(guard *Guard, policy string, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Sweeper{
		guard:    guard,
		policy:   policy,
		interval: interval,
		logger:   logger.Named("sweep"),
	}
}

// Start schedules the sweep and returns immediately. The first pass runs
// right away so a restart after a crash reconciles without waiting a full
// interval.
func (s *Sweeper) Start() error {
	s.scheduler = gocron.NewScheduler(time.UTC)
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(s.interval).StartImmediately().Do(s.sweep); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Infow("Orphan sweep started", "interval", s.interval, "policy", s.policy)
	return nil
}

// Stop halts the scheduler. A sweep already in flight finishes.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.logger.Infow("Orphan sweep stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	orphans, err := s.guard.FindOrphans(ctx)
	if err != nil {
		s.logger.Errorw("Orphan sweep failed", "error", err)
		return
	}
	if len(orphans) == 0 {
		return
	}

	s.logger.Warnw("Orphaned tasks detected", "count", len(orphans))
	remediated, err := s.guard.Remediate(ctx, orphans, s.policy)
	if err != nil {
		s.logger.Errorw("Orphan remediation failed",
			"remediated", remediated, "error", err)
		return
	}
	s.logger.Infow("Orphaned tasks remediated",
		"count", remediated, "policy", s.policy)
}
