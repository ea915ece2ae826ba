package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/logger"
)

// Scheduler triggers periodic sync passes. The orchestrator's single-flight
// guard makes an overlapping trigger a no-op, so the scheduler never has to
// track pass state itself.
type Scheduler struct {
	enabled      bool
	interval     string
	orchestrator *Orchestrator
	cron         *cron.Cron
	entryID      cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, syncCfg config.SyncConfig, orchestrator *Orchestrator) *Scheduler {
	return &Scheduler{
		enabled:      cfg.Enabled,
		interval:     fmt.Sprintf("@every %s", syncCfg.Interval()),
		orchestrator: orchestrator,
		cron:         cron.New(),
	}
}

func (s *Scheduler) Start() {
	if !s.enabled {
		logger.Log.Info("Scheduler is disabled")
		return
	}

	logger.Log.Info("Starting scheduler", zap.String("interval", s.interval))

	id, err := s.cron.AddFunc(s.interval, func() {
		logger.Log.Debug("Triggering scheduled sync")
		s.orchestrator.Sync(context.Background(), false)
	})
	if err != nil {
		logger.Log.Error("Failed to schedule sync job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Stopped scheduler")
}
