package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/db"
	"infinite-experiment/tourdesk/internal/models/entities"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/reconcile"
	"infinite-experiment/tourdesk/internal/retry"
)

// Setup test database
func setupTestDB(t *testing.T) *gorm.DB {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return gdb
}

var seedTime = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func seedOrders(t *testing.T, gdb *gorm.DB, orders ...gormModels.Order) {
	for i := range orders {
		if orders[i].UpdatedAt.IsZero() {
			orders[i].UpdatedAt = seedTime
		}
		if err := gdb.Create(&orders[i]).Error; err != nil {
			t.Fatalf("Failed to seed order: %v", err)
		}
	}
}

func testConfig(kind entities.Kind) SyncConfig {
	return SyncConfig{
		Kind:        kind,
		Retry:       retry.FixedPolicy(3, 0),
		Resubscribe: retry.FixedPolicy(1, time.Millisecond),
	}
}

func orderConfig() SyncConfig {
	cfg := testConfig(entities.KindOrder)
	cfg.Criteria = reconcile.Criteria{Statuses: constants.DefaultActiveOrderStatuses}
	return cfg
}

func eventually(t *testing.T, cond func() bool, msg string) {
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

func hasNotification(n *Notifier, level Level, message string) bool {
	for _, note := range n.Recent() {
		if note.Level == level && note.Message == message {
			return true
		}
	}
	return false
}

// Mock data source
type mockSource struct {
	fetchFunc  func(ctx context.Context, kind entities.Kind, filter providers.FetchFilter) ([]entities.Record, error)
	getFunc    func(ctx context.Context, kind entities.Kind, id string) (entities.Record, error)
	updateFunc func(ctx context.Context, kind entities.Kind, id string, patch entities.Patch, expected time.Time) (entities.Record, error)
	insertFunc func(ctx context.Context, rec entities.Record) (entities.Record, error)
	deleteFunc func(ctx context.Context, kind entities.Kind, id string) error

	updateCalls atomic.Int32
	insertCalls atomic.Int32
	deleteCalls atomic.Int32
}

func (m *mockSource) Fetch(ctx context.Context, kind entities.Kind, filter providers.FetchFilter) ([]entities.Record, error) {
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, kind, filter)
	}
	return nil, nil
}

func (m *mockSource) Get(ctx context.Context, kind entities.Kind, id string) (entities.Record, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, kind, id)
	}
	return entities.Record{}, providers.NotFound(kind.Table(), id)
}

func (m *mockSource) Update(ctx context.Context, kind entities.Kind, id string, patch entities.Patch, expected time.Time) (entities.Record, error) {
	m.updateCalls.Add(1)
	return m.updateFunc(ctx, kind, id, patch, expected)
}

func (m *mockSource) Insert(ctx context.Context, rec entities.Record) (entities.Record, error) {
	m.insertCalls.Add(1)
	return m.insertFunc(ctx, rec)
}

func (m *mockSource) Delete(ctx context.Context, kind entities.Kind, id string) error {
	m.deleteCalls.Add(1)
	return m.deleteFunc(ctx, kind, id)
}

// Mock capability checker
type staticCaps struct {
	has bool
	err error
}

func (s staticCaps) Has(ctx context.Context, table, column string) (bool, error) {
	return s.has, s.err
}

// countingRecorder captures reconciliation metrics
type countingRecorder struct {
	mu        sync.Mutex
	conflicts int
	mutations map[string]int
	live      map[string]bool
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{mutations: map[string]int{}, live: map[string]bool{}}
}

func (c *countingRecorder) RemoteEvent(kind, action string) {}

func (c *countingRecorder) Conflict(kind string) {
	c.mu.Lock()
	c.conflicts++
	c.mu.Unlock()
}

func (c *countingRecorder) Mutation(kind, op, result string) {
	c.mu.Lock()
	c.mutations[op+":"+result]++
	c.mu.Unlock()
}

func (c *countingRecorder) SetCollectionSize(kind string, n int) {}

func (c *countingRecorder) SetStreamLive(kind string, live bool) {
	c.mu.Lock()
	c.live[kind] = live
	c.mu.Unlock()
}

func (c *countingRecorder) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutations[key]
}

func orderRecord(id, status string) entities.Record {
	return entities.Record{
		ID:   id,
		Kind: entities.KindOrder,
		Fields: map[string]any{
			"tour_id":       "t-1",
			"customer_name": "Ana",
			"status":        status,
		},
		UpdatedAt: seedTime,
	}
}
