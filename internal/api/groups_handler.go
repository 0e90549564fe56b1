package api

import (
	"net/http"
	"time"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/grouping"
	"infinite-experiment/tourdesk/internal/models/dtos"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// GetGroups handles GET /api/v1/{orders|passengers}/groups
//
// Query parameters: search, date (YYYY-MM-DD) and tab (active|completed|all).
// Providers only see groups of their own tours.
func (h *Handlers) GetGroups(kind entities.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		initTime := time.Now()
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		params := grouping.Params{
			Search: q.Get("search"),
			Date:   q.Get("date"),
			Tab:    grouping.ParseTab(q.Get("tab")),
		}

		svc, err := h.deps.Services.Workspace.Service(kind)
		if err != nil {
			respondServiceError(w, r, initTime, err)
			return
		}
		groups, ok := h.deps.Services.Views.Groups(kind, params, scopeFor(claims))
		if !ok {
			common.RespondError(w, initTime, nil, "No grouped view for "+kind.String(), http.StatusNotFound)
			return
		}

		resp := dtos.GroupsResponse{
			Kind:    kind.String(),
			Tab:     string(params.Tab),
			Version: svc.Reconciler().Version(),
			Live:    svc.Live(),
			Groups:  make([]dtos.GroupResponse, 0, len(groups)),
		}
		for _, g := range groups {
			members := make([]entities.Record, 0, len(g.Members))
			for _, m := range g.Members {
				members = append(members, m.Record)
			}
			resp.Groups = append(resp.Groups, dtos.GroupResponse{
				Key:       g.Key,
				Date:      g.Date,
				Title:     g.Title,
				OrderID:   g.OrderID,
				Completed: g.Completed,
				Members:   members,
			})
		}

		common.RespondSuccess(w, initTime, "Groups fetched", resp)
	}
}

// GetNotifications handles GET /api/v1/notifications with the most recent
// notifications, oldest first
func (h *Handlers) GetNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}
		restricted := !claims.HasRole(constants.RoleManager)

		recent := h.deps.Services.Notifier.Recent()
		for i := range recent {
			recent[i] = scopedNotification(recent[i], restricted)
		}
		common.RespondSuccess(w, time.Now(), "Notifications fetched", recent)
	}
}
