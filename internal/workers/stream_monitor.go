package workers

import (
	"context"
	"time"

	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/services"
)

// StreamLengther reports the backlog of a change stream. Implemented by the
// Redis stream backend.
type StreamLengther interface {
	StreamLength(ctx context.Context, table string) (int64, error)
}

// Sweeper drops idle per-client state
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// StreamMonitor periodically logs the health of every collection and
// housekeeps per-client rate limiter state
type StreamMonitor struct {
	workspace *services.Workspace
	streams   StreamLengther
	sweeper   Sweeper
}

// NewStreamMonitor creates a monitor. streams and sweeper may be nil.
func NewStreamMonitor(workspace *services.Workspace, streams StreamLengther, sweeper Sweeper) *StreamMonitor {
	return &StreamMonitor{
		workspace: workspace,
		streams:   streams,
		sweeper:   sweeper,
	}
}

// CollectionStats is one collection's state at check time
type CollectionStats struct {
	Kind        string
	Records     int
	Pending     int
	Live        bool
	StreamDepth int64
	LastChecked time.Time
}

// Start checks every interval until ctx is cancelled
func (m *StreamMonitor) Start(ctx context.Context, interval time.Duration) {
	logging.Info("Starting stream monitor", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Stream monitor shutting down")
			return
		case <-ticker.C:
			m.Check(ctx)
			if m.sweeper != nil {
				if n := m.sweeper.Sweep(3 * interval); n > 0 {
					logging.Debug("Swept idle rate limiter clients", "count", n)
				}
			}
		}
	}
}

// Check collects and logs stats for every collection
func (m *StreamMonitor) Check(ctx context.Context) []CollectionStats {
	now := time.Now()
	svcs := m.workspace.Services()
	out := make([]CollectionStats, 0, len(svcs))

	for _, svc := range svcs {
		rec := svc.Reconciler()
		stats := CollectionStats{
			Kind:        svc.Kind().String(),
			Records:     rec.Len(),
			Pending:     len(rec.Pending()),
			Live:        svc.Live(),
			StreamDepth: -1,
			LastChecked: now,
		}
		if m.streams != nil {
			if n, err := m.streams.StreamLength(ctx, svc.Kind().Table()); err == nil {
				stats.StreamDepth = n
			}
		}

		if !stats.Live {
			logging.Warn("Collection is not receiving live updates",
				"kind", stats.Kind, "records", stats.Records, "pending", stats.Pending)
		} else {
			logging.Debug("Collection healthy",
				"kind", stats.Kind, "records", stats.Records, "pending", stats.Pending, "stream_depth", stats.StreamDepth)
		}
		out = append(out, stats)
	}
	return out
}
