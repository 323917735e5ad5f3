package engine

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
)

// Scheduler triggers batch pipeline passes on their cron expressions.
// Each pipeline gets its own cron runner so schedules evaluate in the
// pipeline's own timezone.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*cron.Cron
	logger  *zap.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		entries: make(map[string]*cron.Cron),
		logger:  logger.Get().With(zap.String("component", "scheduler")),
	}
}

// Schedule registers job to fire on expr in tz (UTC when empty).
// Scheduling again for the same pipeline replaces the previous entry.
func (s *Scheduler) Schedule(pipelineID, expr, tz string, job func()) error {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid schedule timezone").
				WithDetail("timezone", tz)
		}
		loc = l
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(expr, job); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid schedule expression").
			WithDetail("expression", expr)
	}

	s.mu.Lock()
	if prev, ok := s.entries[pipelineID]; ok {
		prev.Stop()
	}
	s.entries[pipelineID] = c
	s.mu.Unlock()

	c.Start()
	s.logger.Info("pipeline scheduled",
		zap.String("pipeline_id", pipelineID),
		zap.String("expression", expr),
		zap.String("timezone", loc.String()))
	return nil
}

// Unschedule stops and removes the pipeline's schedule, if any.
func (s *Scheduler) Unschedule(pipelineID string) {
	s.mu.Lock()
	c, ok := s.entries[pipelineID]
	if ok {
		delete(s.entries, pipelineID)
	}
	s.mu.Unlock()
	if ok {
		c.Stop()
	}
}

// Stop halts every schedule. Running jobs are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.entries {
		c.Stop()
		delete(s.entries, id)
	}
}
