package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"infinite-experiment/tourdesk/internal/api"
	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/db"
	"infinite-experiment/tourdesk/internal/metrics"
	"infinite-experiment/tourdesk/internal/middleware"
	"infinite-experiment/tourdesk/internal/models/dtos"
	"infinite-experiment/tourdesk/internal/models/entities"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/retry"
	"infinite-experiment/tourdesk/internal/services"
)

var testSecret = []byte("shared-secret")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, _ := newTestServerWithDeps(t)
	return srv
}

func newTestServerWithDeps(t *testing.T) (*httptest.Server, *api.Dependencies) {
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
	gdb.Create(&gormModels.Tour{ID: "t-1", ProviderID: "prov-1", Title: "Glacier Walk", DepartureDate: "2024-06-01", Capacity: 12, UpdatedAt: seeded})
	gdb.Create(&gormModels.Order{ID: "o-1", TourID: "t-1", CustomerName: "Ann", Status: constants.OrderStatusPending, PaxCount: 1, UpdatedAt: seeded})

	source := providers.NewGormSource(gdb, nil, nil)
	notifier := services.NewNotifier()
	ws := services.NewWorkspace(notifier)
	for _, kind := range entities.Kinds {
		ws.Register(services.NewSyncService(services.SyncConfig{Kind: kind, Retry: retry.FixedPolicy(1, 0)}, source, nil, nil, notifier))
	}
	if _, err := ws.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}

	views := services.NewViewService(ws)
	signer := common.NewExportLinkSigner([]byte("export-key"), common.NewMemoryTokenStore(common.NewCacheService(time.Minute, time.Minute)))
	deps := &api.Dependencies{
		Services: &api.Services{
			Workspace: ws,
			Views:     views,
			Exports:   services.NewExportService(views, signer, time.Minute),
			Notifier:  notifier,
		},
		Verifier: auth.NewTokenVerifier(testSecret),
		Metrics:  metrics.NewMetricsRegistry(prometheus.NewRegistry()),
		Limiter:  middleware.NewRateLimiter(1000, 1000),
	}

	srv := httptest.NewServer(RegisterRoutes(deps, []string{"*"}, time.Now()))
	t.Cleanup(srv.Close)
	return srv, deps
}

func tokenFor(t *testing.T, role constants.Role, providerID string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, "user-"+string(role), role, providerID, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return token
}

func call(t *testing.T, srv *httptest.Server, method, path, token, body string) int {
	t.Helper()
	req, _ := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRoleGates(t *testing.T) {
	srv := newTestServer(t)
	provider := tokenFor(t, constants.RoleProvider, "prov-1")
	manager := tokenFor(t, constants.RoleManager, "")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"health is public", http.MethodGet, "/healthCheck", "", "", http.StatusOK},
		{"groups need a token", http.MethodGet, "/api/v1/orders/groups", "", "", http.StatusUnauthorized},
		{"provider reads groups", http.MethodGet, "/api/v1/orders/groups", provider, "", http.StatusOK},
		{"provider reads passenger groups", http.MethodGet, "/api/v1/passengers/groups", provider, "", http.StatusOK},
		{"provider cannot edit", http.MethodPatch, "/api/v1/orders/o-1", provider, `{"fields":{"customer_name":"X"}}`, http.StatusForbidden},
		{"provider cannot export", http.MethodPost, "/api/v1/exports/link", provider, `{"view":"order","format":"csv"}`, http.StatusForbidden},
		{"manager edits", http.MethodPatch, "/api/v1/orders/o-1", manager, `{"fields":{"customer_name":"Annie"}}`, http.StatusOK},
		{"manager edits tours", http.MethodPatch, "/api/v1/tours/t-1", manager, `{"fields":{"title":"Glacier Hike"}}`, http.StatusOK},
		{"manager cannot resync", http.MethodPost, "/api/v1/admin/resync", manager, "", http.StatusForbidden},
		{"bad export token", http.MethodGet, "/exports/csv?token=nope", "", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := call(t, srv, tt.method, tt.path, tt.token, tt.body); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestLiveUpdates(t *testing.T) {
	srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/live?access_token=" + tokenFor(t, constants.RoleManager, "")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v (%v)", err, resp)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// One version message per kind comes first
	for i := 0; i < len(entities.Kinds); i++ {
		var msg dtos.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if msg.Type != api.LiveTypeVersion {
			t.Fatalf("Expected a version message, got %+v", msg)
		}
	}

	if code := call(t, srv, http.MethodPatch, "/api/v1/orders/o-1", tokenFor(t, constants.RoleManager, ""), `{"fields":{"status":"confirmed"}}`); code != http.StatusOK {
		t.Fatalf("Expected 200 from PATCH, got %d", code)
	}

	for {
		var msg dtos.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Expected a change message: %v", err)
		}
		if msg.Type == api.LiveTypeChange && msg.Kind == "order" {
			if msg.EntityID != "o-1" || msg.Version == 0 {
				t.Errorf("Unexpected change %+v", msg)
			}
			break
		}
	}
}

func TestLiveUpdates_ProviderNotificationsAreScrubbed(t *testing.T) {
	srv, deps := newTestServerWithDeps(t)

	tests := []struct {
		name       string
		role       constants.Role
		providerID string
		wantDetail bool
	}{
		{"provider", constants.RoleProvider, "prov-2", false},
		{"manager", constants.RoleManager, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/live?access_token=" + tokenFor(t, tt.role, tt.providerID)
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			if err != nil {
				t.Fatalf("Dial failed: %v (%v)", err, resp)
			}
			defer conn.Close()
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))

			for i := 0; i < len(entities.Kinds); i++ {
				var msg dtos.LiveMessage
				if err := conn.ReadJSON(&msg); err != nil {
					t.Fatalf("ReadJSON failed: %v", err)
				}
			}

			deps.Services.Notifier.Notify(services.Notification{
				Level:    services.LevelError,
				Kind:     "order",
				EntityID: "o-1",
				Message:  constants.MsgSaveFailed,
				Detail:   "orders o-1 for Ann",
			})

			for {
				var msg struct {
					Type         string         `json:"type"`
					Notification map[string]any `json:"notification"`
				}
				if err := conn.ReadJSON(&msg); err != nil {
					t.Fatalf("Expected a notification: %v", err)
				}
				if msg.Type != api.LiveTypeNotification {
					continue
				}
				_, hasEntity := msg.Notification["entity_id"]
				_, hasDetail := msg.Notification["detail"]
				if hasEntity != tt.wantDetail || hasDetail != tt.wantDetail {
					t.Errorf("Expected entity and detail present=%v, got %+v", tt.wantDetail, msg.Notification)
				}
				if msg.Notification["message"] != constants.MsgSaveFailed {
					t.Errorf("Expected the message to be kept, got %+v", msg.Notification)
				}
				return
			}
		})
	}
}

func TestLiveUpdates_RequiresToken(t *testing.T) {
	srv := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/live", nil)
	if err == nil {
		t.Fatal("Expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}
}
