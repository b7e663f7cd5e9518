package annodb

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultMaintenanceInterval is how often record counts are reconciled when
// maintenance is enabled.
const DefaultMaintenanceInterval = 10 * time.Minute

type maintenance struct {
	scheduler *gocron.Scheduler
}

// StartMaintenance schedules a periodic stats reconciliation job. A zero
// interval uses the default. Calling it again restarts the schedule.
func (m *Manager) StartMaintenance(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	m.StopMaintenance()

	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).Do(func() {
		if err := m.RefreshStats(); err != nil {
			m.logger.Warn("stats refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.StartAsync()
	m.maint = &maintenance{scheduler: s}
	m.logger.Info("maintenance started", zap.Duration("interval", interval))
	return nil
}

// StopMaintenance halts the maintenance schedule if one is running.
func (m *Manager) StopMaintenance() {
	if m.maint == nil {
		return
	}
	m.maint.scheduler.Stop()
	m.maint = nil
}
