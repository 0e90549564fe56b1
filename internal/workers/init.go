package workers

import (
	"context"
	"errors"
	"time"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/services"
)

type WorkersContainer struct {
	Subscriptions *SubscriptionWorker
	Monitor       *StreamMonitor

	done chan struct{}
}

// InitWorkers starts the background workers. Wait blocks until they exit
// after ctx is cancelled.
func InitWorkers(
	ctx context.Context,
	workspace *services.Workspace,
	streams StreamLengther,
	sweeper Sweeper,
	monitorInterval time.Duration,
) *WorkersContainer {
	subs := NewSubscriptionWorker(workspace)
	monitor := NewStreamMonitor(workspace, streams, sweeper)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := subs.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("Subscription worker stopped", "error", err.Error())
		}
	}()
	go monitor.Start(ctx, monitorInterval)

	return &WorkersContainer{
		Subscriptions: subs,
		Monitor:       monitor,
		done:          done,
	}
}

// Wait blocks until the subscription worker has stopped
func (c *WorkersContainer) Wait() {
	<-c.done
}
