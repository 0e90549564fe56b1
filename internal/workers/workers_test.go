package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"infinite-experiment/tourdesk/internal/models/entities"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/retry"
	"infinite-experiment/tourdesk/internal/services"
)

// emptySource starts every collection empty and accepts no writes
type emptySource struct{}

func (emptySource) Fetch(context.Context, entities.Kind, providers.FetchFilter) ([]entities.Record, error) {
	return nil, nil
}

func (emptySource) Get(_ context.Context, kind entities.Kind, id string) (entities.Record, error) {
	return entities.Record{}, providers.NotFound(kind.Table(), id)
}

func (emptySource) Update(_ context.Context, kind entities.Kind, id string, _ entities.Patch, _ time.Time) (entities.Record, error) {
	return entities.Record{}, providers.NotFound(kind.Table(), id)
}

func (emptySource) Insert(_ context.Context, rec entities.Record) (entities.Record, error) {
	return rec, nil
}

func (emptySource) Delete(context.Context, entities.Kind, string) error { return nil }

type lengths map[string]int64

func (l lengths) StreamLength(_ context.Context, table string) (int64, error) {
	return l[table], nil
}

type countingSweeper struct{ calls atomic.Int32 }

func (s *countingSweeper) Sweep(time.Duration) int {
	s.calls.Add(1)
	return 0
}

func newWorkspace(stream providers.ChangeStream) *services.Workspace {
	ws := services.NewWorkspace(services.NewNotifier())
	for _, kind := range entities.Kinds {
		ws.Register(services.NewSyncService(services.SyncConfig{
			Kind:        kind,
			Retry:       retry.FixedPolicy(1, 0),
			Resubscribe: retry.FixedPolicy(1, time.Millisecond),
		}, emptySource{}, stream, nil, ws.Notifier()))
	}
	return ws
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubscriptionWorker_MergesEventsUntilCancelled(t *testing.T) {
	stream := providers.NewMemoryStream()
	ws := newWorkspace(stream)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSubscriptionWorker(ws).Start(ctx) }()

	waitFor(t, func() bool { return stream.Subscribers() == len(entities.Kinds) }, "Expected every kind to subscribe")

	tour := entities.Record{
		ID:        "t-1",
		Kind:      entities.KindTour,
		Fields:    map[string]any{"title": "Fjord Cruise", "provider_id": "prov-1"},
		UpdatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	stream.Publish(ctx, entities.ChangeEvent{Table: entities.KindTour.Table(), Kind: entities.ChangeInsert, Current: &tour})

	waitFor(t, func() bool { return ws.Reconciler(entities.KindTour).Len() == 1 }, "Expected the tour insert to be merged")
	if ws.Reconciler(entities.KindOrder).Len() != 0 {
		t.Error("Expected the order collection to be untouched")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not stop after cancel")
	}
}

func TestStreamMonitor_Check(t *testing.T) {
	stream := providers.NewMemoryStream()
	ws := newWorkspace(stream)
	sweeper := &countingSweeper{}
	m := NewStreamMonitor(ws, lengths{"orders": 7}, sweeper)

	stats := m.Check(context.Background())
	if len(stats) != len(entities.Kinds) {
		t.Fatalf("Expected stats for every kind, got %d", len(stats))
	}
	for _, s := range stats {
		if s.Live {
			t.Errorf("Expected %s not live before subscribing", s.Kind)
		}
		if s.Kind == "order" && s.StreamDepth != 7 {
			t.Errorf("Expected order stream depth 7, got %d", s.StreamDepth)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx, time.Millisecond)
		close(done)
	}()
	waitFor(t, func() bool { return sweeper.calls.Load() > 0 }, "Expected the sweeper to run")
	cancel()
	<-done
}
