package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/capability"
	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/db"
	"infinite-experiment/tourdesk/internal/db/repositories"
	"infinite-experiment/tourdesk/internal/jobs"
	"infinite-experiment/tourdesk/internal/metrics"
	"infinite-experiment/tourdesk/internal/models/entities"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/reconcile"
	"infinite-experiment/tourdesk/internal/retry"
	"infinite-experiment/tourdesk/internal/services"
)

var testSecret = []byte("shared-secret")

type testEnv struct {
	deps   *Dependencies
	gdb    *gorm.DB
	stream *providers.MemoryStream
}

// newTestEnv wires the real services over SQLite with two providers' tours
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
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

	seeded := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	gdb.Create(&[]gormModels.Tour{
		{ID: "t-1", ProviderID: "prov-1", Title: "Glacier Walk", DepartureDate: "2024-06-01", Capacity: 12, UpdatedAt: seeded},
		{ID: "t-2", ProviderID: "prov-2", Title: "Fjord Cruise", DepartureDate: "2024-06-02", Capacity: 40, UpdatedAt: seeded},
	})
	gdb.Create(&[]gormModels.Order{
		{ID: "o-1", TourID: "t-1", CustomerName: "Ann", CustomerEmail: "ann@example.com", Status: constants.OrderStatusPending, PaxCount: 1, TotalPrice: 120, UpdatedAt: seeded},
		{ID: "o-2", TourID: "t-2", CustomerName: "Bob", Status: constants.OrderStatusConfirmed, PaxCount: 2, TotalPrice: 300, UpdatedAt: seeded},
	})
	gdb.Create(&gormModels.Passenger{ID: "p-1", OrderID: "o-1", FullName: "Ann Lee", Status: "active", UpdatedAt: seeded})

	stream := providers.NewMemoryStream()
	caps := capability.NewCache(providers.NewSchemaProbe(nil, gdb), common.NewCacheService(time.Minute, time.Minute), time.Minute)
	source := providers.NewGormSource(gdb, stream, caps)

	notifier := services.NewNotifier()
	ws := services.NewWorkspace(notifier)
	for _, kind := range entities.Kinds {
		criteria := reconcile.Criteria{}
		if kind == entities.KindTour {
			criteria.RequireVisible = true
		}
		ws.Register(services.NewSyncService(services.SyncConfig{
			Kind:        kind,
			Criteria:    criteria,
			Retry:       retry.FixedPolicy(1, 0),
			Resubscribe: retry.FixedPolicy(1, time.Millisecond),
		}, source, stream, caps, notifier))
	}
	if _, err := ws.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	views := services.NewViewService(ws)
	signer := common.NewExportLinkSigner([]byte("export-key"), common.NewMemoryTokenStore(common.NewCacheService(time.Minute, time.Minute)))
	history := repositories.NewSyncHistoryRepo(gdb)

	deps := &Dependencies{
		Repo: &Repositories{SyncHistory: history},
		Services: &Services{
			Workspace:    ws,
			Views:        views,
			Exports:      services.NewExportService(views, signer, time.Minute),
			Notifier:     notifier,
			Capabilities: caps,
		},
		Verifier: auth.NewTokenVerifier(testSecret),
		Metrics:  metrics.NewMetricsRegistry(prometheus.NewRegistry()),
		Resync:   jobs.NewResyncJob(ws, history, nil),
		ORM:      gdb,
		Stream:   stream,
	}
	return &testEnv{deps: deps, gdb: gdb, stream: stream}
}

func (e *testEnv) handlers() *Handlers {
	return NewHandlers(e.deps)
}

func asRole(req *http.Request, role constants.Role, providerID string) *http.Request {
	ctx := auth.SetUserClaims(req.Context(), &auth.JWTClaims{Subject: "user-1", RoleValue: role, ProviderIDVal: providerID})
	return req.WithContext(ctx)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// envelope is the APIResponse shape with a typed payload
type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Data    T      `json:"data"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
