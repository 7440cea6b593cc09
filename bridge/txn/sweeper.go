package txn

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/percona/percona-docbridge/errors"
	"github.com/percona/percona-docbridge/log"
)

// Sweeper runs [Coordinator.Sweep] on a cron schedule.
type Sweeper struct {
	coord        *Coordinator
	abandonAfter time.Duration
	cron         *cron.Cron
}

// NewSweeper parses schedule ("@every 1m", "*/5 * * * *").
func NewSweeper(coord *Coordinator, schedule string, abandonAfter time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		coord:        coord,
		abandonAfter: abandonAfter,
		cron:         cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}

	_, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, errors.Wrapf(err, "parse sweep schedule %q", schedule)
	}

	return s, nil
}

func (s *Sweeper) run() {
	lg := log.New("txn:sweeper")
	ctx := lg.WithContext(context.Background())

	start := time.Now()
	rolledBack, archived := s.coord.Sweep(ctx, s.abandonAfter)

	if rolledBack != 0 || archived != 0 {
		lg.With(log.Elapsed(time.Since(start))).
			Infof("Swept transactions: %d rolled back, %d archived", rolledBack, archived)
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}
