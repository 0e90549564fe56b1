package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/jobs"
	"infinite-experiment/tourdesk/internal/models/dtos"
	"infinite-experiment/tourdesk/internal/models/entities"
	gormModels "infinite-experiment/tourdesk/internal/models/gorm"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/services"
)

func TestGetGroups_Scope(t *testing.T) {
	env := newTestEnv(t)
	h := env.handlers().GetGroups(entities.KindOrder)

	tests := []struct {
		name       string
		role       constants.Role
		providerID string
		titles     []string
	}{
		{"manager sees every tour", constants.RoleManager, "", []string{"Glacier Walk", "Fjord Cruise"}},
		{"provider sees own tours", constants.RoleProvider, "prov-1", []string{"Glacier Walk"}},
		{"provider without id sees nothing", constants.RoleProvider, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asRole(httptest.NewRequest(http.MethodGet, "/api/v1/orders/groups?tab=active", nil), tt.role, tt.providerID)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
			}

			body := decodeBody[dtos.GroupsResponse](t, rec)
			if body.Data.Kind != "order" || body.Data.Tab != "active" {
				t.Errorf("Unexpected view %+v", body.Data)
			}
			if len(body.Data.Groups) != len(tt.titles) {
				t.Fatalf("Expected %d groups, got %+v", len(tt.titles), body.Data.Groups)
			}
			for i, title := range tt.titles {
				if body.Data.Groups[i].Title != title {
					t.Errorf("Group %d: expected %s, got %s", i, title, body.Data.Groups[i].Title)
				}
			}
		})
	}
}

func TestGetGroups_PassengersAndSearch(t *testing.T) {
	env := newTestEnv(t)
	req := asRole(httptest.NewRequest(http.MethodGet, "/api/v1/passengers/groups?search=ann+lee", nil), constants.RoleManager, "")
	rec := httptest.NewRecorder()
	env.handlers().GetGroups(entities.KindPassenger).ServeHTTP(rec, req)

	body := decodeBody[dtos.GroupsResponse](t, rec)
	if len(body.Data.Groups) != 1 {
		t.Fatalf("Expected one passenger group, got %+v", body.Data.Groups)
	}
	g := body.Data.Groups[0]
	if g.OrderID != "o-1" || len(g.Members) != 1 || g.Members[0].ID != "p-1" {
		t.Errorf("Unexpected group %+v", g)
	}
}

func TestGetGroups_RequiresClaims(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handlers().GetGroups(entities.KindOrder).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestUpdateRecord(t *testing.T) {
	env := newTestEnv(t)
	h := env.handlers().UpdateRecord(entities.KindOrder)

	patch := func(id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/"+id, strings.NewReader(body))
		req = withURLParam(asRole(req, constants.RoleManager, ""), "id", id)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := patch("o-1", `{"fields":{"customer_name":"Annie"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got, _ := env.deps.Services.Workspace.Reconciler(entities.KindOrder).Get("o-1")
	if got.String("customer_name") != "Annie" {
		t.Errorf("Expected collection to hold the new name, got %s", got.String("customer_name"))
	}
	var stored gormModels.Order
	env.gdb.First(&stored, "id = ?", "o-1")
	if stored.CustomerName != "Annie" {
		t.Errorf("Expected database to hold the new name, got %s", stored.CustomerName)
	}

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"unknown id", "o-404", `{"fields":{"customer_name":"X"}}`, http.StatusNotFound},
		{"empty patch", "o-1", `{"fields":{}}`, http.StatusBadRequest},
		{"blank required field", "o-1", `{"fields":{"customer_name":""}}`, http.StatusBadRequest},
		{"malformed body", "o-1", `{"fields":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := patch(tt.id, tt.body); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateAndDeleteRecord(t *testing.T) {
	env := newTestEnv(t)
	handlers := env.handlers()
	passengers := env.deps.Services.Workspace.Reconciler(entities.KindPassenger)

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/passengers",
		strings.NewReader(`{"fields":{"order_id":"o-1","full_name":"Cara Diaz","status":"active"}}`)), constants.RoleManager, "")
	rec := httptest.NewRecorder()
	handlers.CreateRecord(entities.KindPassenger).ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[entities.Record](t, rec).Data
	if created.ID == "" || passengers.Len() != 2 {
		t.Fatalf("Expected a generated id and 2 passengers, got %q and %d", created.ID, passengers.Len())
	}

	req = withURLParam(asRole(httptest.NewRequest(http.MethodDelete, "/api/v1/passengers/"+created.ID, nil), constants.RoleManager, ""), "id", created.ID)
	rec = httptest.NewRecorder()
	handlers.DeleteRecord(entities.KindPassenger).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := passengers.Get(created.ID); ok {
		t.Error("Expected the passenger to be gone")
	}

	// Missing required fields never reach the database
	req = asRole(httptest.NewRequest(http.MethodPost, "/api/v1/passengers",
		strings.NewReader(`{"fields":{"full_name":"No Order"}}`)), constants.RoleManager, "")
	rec = httptest.NewRecorder()
	handlers.CreateRecord(entities.KindPassenger).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestExportLinkIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	handlers := env.handlers()

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/exports/link",
		strings.NewReader(`{"view":"order","format":"csv","tab":"all"}`)), constants.RoleManager, "")
	rec := httptest.NewRecorder()
	handlers.CreateExportLink().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	link := decodeBody[dtos.ExportLinkResponse](t, rec).Data
	u, err := url.Parse(link.URL)
	if err != nil || u.Path != "/exports/csv" {
		t.Fatalf("Unexpected link %q", link.URL)
	}

	download := func() *httptest.ResponseRecorder {
		req := withURLParam(httptest.NewRequest(http.MethodGet, link.URL, nil), "format", "csv")
		rec := httptest.NewRecorder()
		handlers.DownloadExport().ServeHTTP(rec, req)
		return rec
	}

	rec = download()
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Unexpected content type %s", ct)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "orders-all-") {
		t.Errorf("Unexpected disposition %s", rec.Header().Get("Content-Disposition"))
	}
	if body := rec.Body.String(); !strings.Contains(body, "Glacier Walk") || !strings.Contains(body, "Fjord Cruise") {
		t.Errorf("Expected both tours in export, got %s", body)
	}

	if rec = download(); rec.Code != http.StatusGone {
		t.Errorf("Expected 410 on reuse, got %d", rec.Code)
	}
}

func TestCreateExportLink_RejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"view":"tour","format":"csv"}`,
		`{"view":"order","format":"pdf"}`,
	} {
		req := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/exports/link", strings.NewReader(body)), constants.RoleManager, "")
		rec := httptest.NewRecorder()
		env.handlers().CreateExportLink().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestDownloadExport_FormatMismatch(t *testing.T) {
	env := newTestEnv(t)
	token, _, err := env.deps.Services.Exports.CreateLink(common.ExportRequest{
		UserID: "user-1", Role: string(constants.RoleManager), View: "passenger", Format: "xlsx",
	})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/exports/csv?token="+url.QueryEscape(token), nil), "format", "csv")
	rec := httptest.NewRecorder()
	env.handlers().DownloadExport().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAdminHandlers(t *testing.T) {
	env := newTestEnv(t)
	handlers := env.handlers()

	req := asRole(httptest.NewRequest(http.MethodPost, "/api/v1/admin/resync", nil), constants.RoleAdmin, "")
	rec := httptest.NewRecorder()
	handlers.TriggerResync().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resync := decodeBody[dtos.ResyncResponse](t, rec).Data
	if len(resync.Results) != 3 {
		t.Fatalf("Expected 3 results, got %+v", resync.Results)
	}
	for _, r := range resync.Results {
		if r.Error != "" {
			t.Errorf("Unexpected error for %s: %s", r.Kind, r.Error)
		}
	}

	rec = httptest.NewRecorder()
	handlers.GetSyncHistory().ServeHTTP(rec, asRole(httptest.NewRequest(http.MethodGet, "/", nil), constants.RoleAdmin, ""))
	history := decodeBody[[]gormModels.SyncHistory](t, rec).Data
	if len(history) != 3 {
		t.Errorf("Expected 3 history rows, got %d", len(history))
	}

	// The resync consulted the capability cache, so there is something to clear
	rec = httptest.NewRecorder()
	handlers.ResetCapabilities().ServeHTTP(rec, asRole(httptest.NewRequest(http.MethodPost, "/", nil), constants.RoleAdmin, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if cleared := decodeBody[dtos.CapabilityResetResponse](t, rec).Data.Cleared; cleared == 0 {
		t.Error("Expected cached capability answers to be cleared")
	}
}

type busyResync struct{}

func (busyResync) Run(context.Context, string) ([]services.LoadResult, error) {
	return nil, jobs.ErrResyncRunning
}

func TestTriggerResync_Overlap(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Resync = busyResync{}
	rec := httptest.NewRecorder()
	env.handlers().TriggerResync().ServeHTTP(rec, asRole(httptest.NewRequest(http.MethodPost, "/", nil), constants.RoleAdmin, ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}
}

func TestHealthCheck_DegradedWithoutStreams(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	HealthCheckHandler(env.deps, time.Now()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthCheck", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp entities.HealthCheckResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("Expected degraded status, got %s", resp.Status)
	}
	if resp.Services["stream_order"].Status != "degraded" {
		t.Errorf("Unexpected stream status %+v", resp.Services)
	}
	if _, ok := resp.Services["postgres"]; ok {
		t.Error("Expected no postgres entry without a connection")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{providers.NotFound("orders", "o-1"), http.StatusNotFound},
		{providers.Validation("bad"), http.StatusBadRequest},
		{providers.ErrStaleWrite, http.StatusConflict},
		{providers.Unavailable(errors.New("down")), http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", common.ErrLinkConsumed), http.StatusGone},
		{common.ErrLinkInvalid, http.StatusForbidden},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func TestGetNotifications_ScopedForProviders(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Services.Notifier.Notify(services.Notification{
		Level:    services.LevelWarning,
		Kind:     "order",
		EntityID: "o-2",
		Message:  "Failed to save change",
		Detail:   "orders o-2 belongs to prov-2",
	})

	tests := []struct {
		name       string
		role       constants.Role
		providerID string
		wantEntity string
	}{
		{"provider", constants.RoleProvider, "prov-1", ""},
		{"manager", constants.RoleManager, "", "o-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asRole(httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil), tt.role, tt.providerID)
			rec := httptest.NewRecorder()
			env.handlers().GetNotifications().ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}
			body := decodeBody[[]services.Notification](t, rec)
			if len(body.Data) == 0 {
				t.Fatal("Expected the notification to be listed")
			}
			got := body.Data[len(body.Data)-1]
			if got.EntityID != tt.wantEntity || (got.Detail != "") != (tt.wantEntity != "") {
				t.Errorf("Unexpected notification %+v", got)
			}
		})
	}

	// Without claims there is nothing to scope by
	rec := httptest.NewRecorder()
	env.handlers().GetNotifications().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without claims, got %d", rec.Code)
	}
}
