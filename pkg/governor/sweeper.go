package governor

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Sweeper expires overdue approval requests on a fixed schedule so tasks
// parked on an approval never wait past the configured timeout.
type Sweeper struct {
	governor *Governor
	cron     *cron.Cron
}

// NewSweeper creates a sweeper running ExpireOverdue on the given cron
// schedule, e.g. "@every 30s".
func NewSweeper(governor *Governor, schedule string) (*Sweeper, error) {
	c := cron.New()

	s := &Sweeper{governor: governor, cron: c}

	_, err := c.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Sweeper) sweep() {
	ctx := context.Background()

	expired, err := s.governor.ExpireOverdue(ctx)
	if err != nil {
		s.governor.logger.ErrorContext(ctx, "Approval expiry sweep failed", "error", err)
		return
	}

	if expired > 0 {
		s.governor.logger.InfoContext(ctx, "Expired overdue approvals", "count", expired)
	}
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
