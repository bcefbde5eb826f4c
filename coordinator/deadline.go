package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefDeadlineCheck = "@every 1s"

// DeadlineWatcher periodically applies the round timeout policy until the
// coordinator terminates.
type DeadlineWatcher struct {
	coordinator *Coordinator
	schedule    cron.Schedule
	logger      *slog.Logger
	stopChan    chan struct{}
}

// NewDeadlineWatcher accepts standard cron expressions and descriptors such
// as "@every 5s".
func NewDeadlineWatcher(c *Coordinator, spec string, logger *slog.Logger) (*DeadlineWatcher, error) {
	if spec == "" {
		spec = DefDeadlineCheck
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: deadline check %q: %w", ErrInvalidConfig, spec, err)
	}

	return &DeadlineWatcher{
		coordinator: c,
		schedule:    schedule,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}, nil
}

func (dw *DeadlineWatcher) Start(ctx context.Context) error {
	timer := time.NewTimer(time.Until(dw.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dw.stopChan:
			return nil
		case <-dw.coordinator.Done():
			return nil
		case <-timer.C:
			if err := dw.coordinator.CheckDeadline(ctx); err != nil {
				dw.logger.Error("failed to apply round deadline", slog.Any("error", err))
			}
			timer.Reset(time.Until(dw.schedule.Next(time.Now())))
		}
	}
}

func (dw *DeadlineWatcher) Stop() {
	close(dw.stopChan)
}
