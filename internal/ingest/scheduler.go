package ingest

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs background maintenance jobs for the pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	ctx       context.Context
}

func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

// ScheduleRepairSweep re-runs link resolution for warned jobs every interval.
func (s *Scheduler) ScheduleRepairSweep(repairer *Repairer, interval time.Duration) error {
	_, err := s.scheduler.Every(interval).Tag("repair-sweep").Do(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, interval)
		defer cancel()
		return repairer.Sweep(ctx)
	})
	return err
}
