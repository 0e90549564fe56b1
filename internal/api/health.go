package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"infinite-experiment/tourdesk/internal/models/entities"
)

// HealthCheckHandler handles GET /healthCheck
//
// Postgres and Redis must answer a ping. A collection without a live change
// stream degrades the status but does not fail it.
func HealthCheckHandler(deps *Dependencies, upSince time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		services := make(map[string]entities.ServiceStatus)

		// Check postgres
		if deps.DB != nil {
			pgstatus := "ok"
			pgDetails := "Postgres Connected"
			if err := deps.DB.PingContext(ctx); err != nil {
				pgstatus = "down"
				pgDetails = err.Error()
			}
			services["postgres"] = entities.ServiceStatus{
				Status:  pgstatus,
				Details: pgDetails,
			}
		}

		// Check redis
		if deps.Redis != nil {
			status := entities.ServiceStatus{Status: "ok", Details: "Redis Connected"}
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				status = entities.ServiceStatus{Status: "down", Details: err.Error()}
			}
			services["redis"] = status
		}

		degraded := false
		for _, svc := range deps.Services.Workspace.Services() {
			status := entities.ServiceStatus{Status: "ok", Details: "Live"}
			if !svc.Live() {
				status = entities.ServiceStatus{Status: "degraded", Details: "Change stream not connected"}
				degraded = true
			}
			services["stream_"+svc.Kind().String()] = status
		}

		overallStatus := "ok"
		if degraded {
			overallStatus = "degraded"
		}
		for _, svc := range services {
			if svc.Status == "down" {
				overallStatus = "down"
				break
			}
		}

		now := time.Now()
		uptime := now.Sub(upSince).Round(time.Second).String()

		resp := entities.HealthCheckResponse{
			Services: services,
			Status:   overallStatus,
			UpSince:  upSince,
			Uptime:   uptime,
		}
		w.Header().Set("Content-Type", "application/json")
		if overallStatus == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
