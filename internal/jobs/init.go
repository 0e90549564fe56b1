package jobs

import (
	"context"
	"time"

	"infinite-experiment/tourdesk/internal/db/repositories"
	"infinite-experiment/tourdesk/internal/services"
)

// InitializeJobs creates the background jobs and starts their schedules
func InitializeJobs(
	ctx context.Context,
	workspace *services.Workspace,
	syncHistoryRepo *repositories.SyncHistoryRepo,
	observer DurationObserver,
	resyncInterval time.Duration,
) *ResyncJob {
	resyncJob := NewResyncJob(workspace, syncHistoryRepo, observer)

	go resyncJob.RunScheduled(ctx, resyncInterval)

	return resyncJob
}
