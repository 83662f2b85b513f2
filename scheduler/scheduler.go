// Package scheduler runs periodic ingestion on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"quantstore/market"
	"quantstore/pipeline"
	"quantstore/store"
)

// Scheduler manages the ingestion cron task.
type Scheduler struct {
	cron     *cron.Cron
	ingester *pipeline.Ingester
	store    *store.Store
	refs     []string
	logger   *zap.Logger
	ctx      context.Context
}

// NewScheduler creates a scheduler over refs. An empty refs list ingests every
// stock in the registry.
func NewScheduler(ctx context.Context, st *store.Store, in *pipeline.Ingester, refs []string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ingester: in,
		store:    st,
		refs:     refs,
		logger:   logger,
		ctx:      ctx,
	}
}

// Register adds the ingestion task. The schedule uses the six-field form with seconds.
func (s *Scheduler) Register(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, s.ingestTask); err != nil {
		return fmt.Errorf("register ingestion task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.cron.Entries())))
}

// Stop stops the scheduler and waits for a running task to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes one ingestion run immediately.
func (s *Scheduler) RunNow(ctx context.Context) (*pipeline.RunResult, error) {
	secs, err := s.Securities()
	if err != nil {
		return nil, err
	}
	return s.ingester.Run(ctx, secs)
}

// Securities resolves the configured references. Unresolvable references are
// logged and skipped.
func (s *Scheduler) Securities() ([]market.Security, error) {
	if len(s.refs) == 0 {
		return s.store.Securities(store.SecurityQuery{Type: market.TypeStock})
	}

	secs := make([]market.Security, 0, len(s.refs))
	seen := make(map[string]bool, len(s.refs))
	for _, ref := range s.refs {
		sec, err := s.store.Resolve(store.TextRef(ref))
		if err != nil {
			s.logger.Warn("skip security", zap.String("ref", ref), zap.Error(err))
			continue
		}
		if seen[sec.ID] {
			continue
		}
		seen[sec.ID] = true
		secs = append(secs, sec)
	}
	return secs, nil
}

func (s *Scheduler) ingestTask() {
	s.logger.Info("running ingestion task")
	result, err := s.RunNow(s.ctx)
	if err != nil {
		s.logger.Error("ingestion task failed", zap.Error(err))
		return
	}
	for id, ferr := range result.Failed {
		s.logger.Warn("security failed", zap.String("run_id", result.RunID), zap.String("security", id), zap.Error(ferr))
	}
}
