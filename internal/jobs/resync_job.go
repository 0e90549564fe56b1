package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/db/repositories"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
	"infinite-experiment/tourdesk/internal/services"
)

// ErrResyncRunning is returned when a manual resync overlaps another run
var ErrResyncRunning = errors.New("a resync is already running")

const jobName = "resync"

// Sources recorded in sync_history
const (
	SourceScheduled = "scheduled"
	SourceManual    = "manual"
)

var syncEvents = map[entities.Kind]string{
	entities.KindOrder:     constants.SyncEventOrdersReload,
	entities.KindTour:      constants.SyncEventToursReload,
	entities.KindPassenger: constants.SyncEventPassengersReload,
}

// DurationObserver receives the wall time of each run
type DurationObserver interface {
	ObserveSyncJob(job string, d time.Duration)
}

// ResyncJob reloads every collection from the data source. It catches up on
// anything the change streams missed and picks up capability changes.
type ResyncJob struct {
	workspace *services.Workspace
	history   *repositories.SyncHistoryRepo
	observer  DurationObserver

	running sync.Mutex
}

// NewResyncJob creates the job. history and observer may be nil.
func NewResyncJob(workspace *services.Workspace, history *repositories.SyncHistoryRepo, observer DurationObserver) *ResyncJob {
	return &ResyncJob{
		workspace: workspace,
		history:   history,
		observer:  observer,
	}
}

// Run reloads all collections once. Overlapping runs are rejected rather
// than queued.
func (j *ResyncJob) Run(ctx context.Context, source string) ([]services.LoadResult, error) {
	if !j.running.TryLock() {
		return nil, ErrResyncRunning
	}
	defer j.running.Unlock()

	log := logging.Component("ResyncJob")
	start := time.Now()
	log.Infow("Starting resync", "source", source)

	results, err := j.workspace.LoadAll(ctx)

	for _, r := range results {
		event, ok := syncEvents[r.Kind]
		if !ok || j.history == nil {
			continue
		}
		if herr := j.history.RecordSync(ctx, event, source, r.Records, r.Err); herr != nil {
			log.Warnw("Failed to record sync history", "event", event, "error", herr.Error())
		}
	}

	elapsed := time.Since(start)
	if j.observer != nil {
		j.observer.ObserveSyncJob(jobName, elapsed)
	}

	if err != nil {
		log.Warnw("Resync finished with errors", "duration", elapsed.Truncate(time.Millisecond).String(), "error", err.Error())
		return results, err
	}
	log.Infow("Resync complete", "duration", elapsed.Truncate(time.Millisecond).String(), "kinds", len(results))
	return results, nil
}

// RunScheduled runs the job every interval until ctx is cancelled. The first
// load is done by the subscription workers, so there is no run on start.
func (j *ResyncJob) RunScheduled(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		logging.Info("Scheduled resync disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := j.Run(ctx, SourceScheduled); err != nil && !errors.Is(err, ErrResyncRunning) {
				logging.Warn("Scheduled resync failed", "error", err.Error())
			}
		case <-ctx.Done():
			logging.Info("Shutting down scheduled resync")
			return
		}
	}
}
