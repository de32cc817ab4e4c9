package announcement

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/emsu/emsu/core"
)

// Scheduler periodically publishes the announcements that became due.
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	spec   string
	logger core.Logger
}

func NewScheduler(svc *Service, spec string, logger core.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:    svc,
		spec:   spec,
		logger: logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Run); err != nil {
		return errors.Wrapf(err, "scheduling %q", s.spec)
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Run publishes the due announcements once.
func (s *Scheduler) Run() {
	n, err := s.svc.PublishDue(context.Background(), time.Now().UTC())
	if err != nil {
		s.logger.Error(fmt.Sprintf("publishing due announcements: %v", err), err)
		return
	}
	if n > 0 {
		s.logger.Info(fmt.Sprintf("published %d announcement(s)", n))
	}
}
