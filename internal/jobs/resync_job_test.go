package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/db"
	"infinite-experiment/tourdesk/internal/db/repositories"
	"infinite-experiment/tourdesk/internal/metrics"
	"infinite-experiment/tourdesk/internal/models/entities"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/retry"
	"infinite-experiment/tourdesk/internal/services"
)

func setupTestDB(t *testing.T) *gorm.DB {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return gdb
}

func newWorkspace(t *testing.T, gdb *gorm.DB) *services.Workspace {
	t.Helper()
	source := providers.NewGormSource(gdb, nil, nil)
	ws := services.NewWorkspace(services.NewNotifier())
	for _, kind := range entities.Kinds {
		ws.Register(services.NewSyncService(services.SyncConfig{
			Kind:  kind,
			Retry: retry.FixedPolicy(1, 0),
		}, source, nil, nil, ws.Notifier()))
	}
	return ws
}

type durations struct {
	runs []string
}

func (d *durations) ObserveSyncJob(job string, _ time.Duration) {
	d.runs = append(d.runs, job)
}

func TestResyncJob_RecordsHistory(t *testing.T) {
	gdb := setupTestDB(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	gdb.Create(&gormModels.Tour{ID: "t-1", ProviderID: "prov-1", Title: "Glacier Walk", Capacity: 12, UpdatedAt: now})
	gdb.Create(&[]gormModels.Order{
		{ID: "o-1", TourID: "t-1", CustomerName: "Ann", Status: constants.OrderStatusPending, PaxCount: 2, UpdatedAt: now},
		{ID: "o-2", TourID: "t-1", CustomerName: "Bob", Status: constants.OrderStatusConfirmed, PaxCount: 1, UpdatedAt: now},
	})

	ws := newWorkspace(t, gdb)
	history := repositories.NewSyncHistoryRepo(gdb)
	observed := &durations{}
	job := NewResyncJob(ws, history, observed)

	results, err := job.Run(context.Background(), SourceManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected a result per kind, got %d", len(results))
	}
	if ws.Reconciler(entities.KindOrder).Len() != 2 {
		t.Errorf("Expected 2 orders loaded, got %d", ws.Reconciler(entities.KindOrder).Len())
	}

	rows, err := history.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected a history row per kind, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Source != SourceManual || row.Error != "" {
			t.Errorf("Unexpected history row %+v", row)
		}
		if row.Event == constants.SyncEventOrdersReload && row.Records != 2 {
			t.Errorf("Expected 2 orders recorded, got %d", row.Records)
		}
	}
	if len(observed.runs) != 1 || observed.runs[0] != jobName {
		t.Errorf("Expected one observed run, got %v", observed.runs)
	}
}

func TestResyncJob_RejectsOverlap(t *testing.T) {
	job := NewResyncJob(newWorkspace(t, setupTestDB(t)), nil, nil)
	job.running.Lock()
	defer job.running.Unlock()

	if _, err := job.Run(context.Background(), SourceManual); !errors.Is(err, ErrResyncRunning) {
		t.Errorf("Expected ErrResyncRunning, got %v", err)
	}
}

func TestResyncJob_ObservedByMetrics(t *testing.T) {
	reg := metrics.NewMetricsRegistry(prometheus.NewRegistry())
	job := NewResyncJob(newWorkspace(t, setupTestDB(t)), nil, reg)
	if _, err := job.Run(context.Background(), SourceScheduled); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := testutil.CollectAndCount(reg.SyncJobDuration); n != 1 {
		t.Errorf("Expected one observed series, got %d", n)
	}
}

func TestResyncJob_ScheduledStopsOnCancel(t *testing.T) {
	job := NewResyncJob(newWorkspace(t, setupTestDB(t)), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.RunScheduled(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunScheduled did not stop")
	}
}
