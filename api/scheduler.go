/*
scheduler.go - Automated report run scheduler

PURPOSE:
  Periodically sweeps report submissions that have no snapshot yet and runs
  them. Account teams submit inputs throughout the month; the sweep turns
  everything pending into reports shortly after month close without anyone
  pressing a button.

DESIGN:
  - Backed by robfig/cron with a configurable cron expression
  - The sweep itself is reports.Service.RunPending: one failing client is
    logged and skipped, the sweep continues
  - A manual sweep stays available through POST /api/admin/run-pending

CONFIGURATION:
  - Spec: cron expression (default: 02:00 on the 1st of every month)
  - An empty spec disables the scheduler

USAGE:
  sched, err := api.NewScheduler(svc, "0 2 1 * *", logger)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - reports/service.go: RunPending
  - cmd/server/main.go: Wiring and shutdown order
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/meridian/report-engine/reports"
)

// DefaultCronSpec runs the sweep at 02:00 on the first of every month.
const DefaultCronSpec = "0 2 1 * *"

// Scheduler drives periodic pending-run sweeps.
type Scheduler struct {
	svc  *reports.Service
	cron *cron.Cron
	log  *logrus.Logger
	spec string
}

// NewScheduler validates the cron expression and prepares the scheduler.
// An empty spec yields a disabled scheduler whose Start is a no-op.
func NewScheduler(svc *reports.Service, spec string, log *logrus.Logger) (*Scheduler, error) {
	if log == nil {
		log = logrus.New()
	}
	s := &Scheduler{svc: svc, log: log, spec: spec}
	if spec == "" {
		return s, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.cron = c
	return s, nil
}

// Start begins the schedule.
func (s *Scheduler) Start() {
	if s.cron == nil {
		s.log.Info("scheduler disabled")
		return
	}
	s.cron.Start()
	s.log.WithField("spec", s.spec).Info("scheduler started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	done, err := s.svc.RunPending(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduled sweep failed")
		return
	}
	if done > 0 {
		s.log.WithField("completed", done).Info("scheduled sweep finished")
	}
}
