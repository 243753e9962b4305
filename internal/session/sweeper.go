package session

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Sweepable is implemented by stores that need periodic expiry passes.
// The Redis backend expires keys natively and is not one of them.
type Sweepable interface {
	Sweep() int
}

// Sweeper runs a store's expiry pass on a cron schedule.
type Sweeper struct {
	store    Sweepable
	schedule *cronexpr.Expression
	logger   *log.Logger
}

func NewSweeper(store Sweepable, cronSpec string) (*Sweeper, error) {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		store:    store,
		schedule: expr,
		logger:   log.New(log.Writer(), "[SWEEPER] ", log.LstdFlags),
	}, nil
}

// Run blocks until the context is cancelled, sweeping at each scheduled
// tick.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next := s.schedule.Next(time.Now())
		if next.IsZero() {
			s.logger.Printf("schedule has no future ticks, stopping")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if removed := s.store.Sweep(); removed > 0 {
				s.logger.Printf("removed %d expired sessions", removed)
			}
		}
	}
}
