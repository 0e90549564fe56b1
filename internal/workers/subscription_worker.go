package workers

import (
	"context"

	"golang.org/x/sync/errgroup"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/services"
)

// SubscriptionWorker keeps every collection subscribed to its change stream.
// Each SyncService resubscribes on its own after failures, so one kind losing
// its stream never stops the others.
type SubscriptionWorker struct {
	workspace *services.Workspace
}

func NewSubscriptionWorker(workspace *services.Workspace) *SubscriptionWorker {
	return &SubscriptionWorker{workspace: workspace}
}

// Start blocks until ctx is cancelled and every subscription has closed
func (w *SubscriptionWorker) Start(ctx context.Context) error {
	svcs := w.workspace.Services()
	logging.Info("Starting change stream subscriptions", "kinds", len(svcs))

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range svcs {
		svc := svc
		g.Go(func() error {
			return svc.Run(gctx)
		})
	}

	err := g.Wait()
	logging.Info("Change stream subscriptions stopped")
	return err
}
