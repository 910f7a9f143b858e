package requestqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultJanitorSchedule sweeps expired cache entries every minute
const DefaultJanitorSchedule = "@every 1m"

// Janitor periodically removes expired cache entries so an idle queue does not
// hold stale results until their keys are read again.
type Janitor struct {
	queue    *Queue
	logger   *zap.Logger
	schedule string
	cron     *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewJanitor creates a janitor for q. An empty schedule uses DefaultJanitorSchedule.
func NewJanitor(q *Queue, schedule string, logger *zap.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Janitor{
		queue:    q,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Sweep purges expired entries once
func (j *Janitor) Sweep() {
	if purged := j.queue.PurgeExpired(); purged > 0 {
		j.logger.Debug("Purged expired cache entries", zap.Int("count", purged))
	}
}

// Start begins the schedule
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.cron.Start()
	j.logger.Info("Cache janitor started", zap.String("schedule", j.schedule))
}

// Stop halts the schedule and waits for a running sweep or ctx
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.logger.Info("Cache janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
