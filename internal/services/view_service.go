package services

import (
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/grouping"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// Scope limits what a caller may see. Providers only see their own tours.
type Scope struct {
	Role       constants.Role
	ProviderID string
}

func (s Scope) restricted() bool {
	return !s.Role.AtLeast(constants.RoleManager)
}

// ViewService projects the reconciled collections into grouped views
type ViewService struct {
	workspace *Workspace
	opts      grouping.Options
}

func NewViewService(workspace *Workspace) *ViewService {
	return &ViewService{
		workspace: workspace,
		opts: grouping.Options{
			TerminalStatuses:     constants.TerminalStatuses,
			CancellationStatuses: constants.CancellationStatuses,
		},
	}
}

// snapshot indexes the current tours and orders by id
func (v *ViewService) snapshot(kind entities.Kind) map[string]entities.Record {
	out := map[string]entities.Record{}
	r := v.workspace.Reconciler(kind)
	if r == nil {
		return out
	}
	for _, rec := range r.Snapshot() {
		out[rec.ID] = rec
	}
	return out
}

// orderRows joins every order with its tour and drops orders outside scope
func (v *ViewService) orderRows(scope Scope) map[string]grouping.Row {
	tours := v.snapshot(entities.KindTour)
	orders := v.snapshot(entities.KindOrder)

	rows := make(map[string]grouping.Row, len(orders))
	for id, order := range orders {
		tour, hasTour := tours[order.String("tour_id")]
		if scope.restricted() && (!hasTour || tour.String("provider_id") != scope.ProviderID) {
			continue
		}

		date := order.String("departure_date")
		if date == "" && hasTour {
			date = tour.String("departure_date")
		}
		title := tour.String("title")

		rows[id] = grouping.Row{
			Date:         date,
			Title:        title,
			OrderID:      id,
			Status:       order.String(constants.ColumnStatus),
			ParentStatus: order.String(constants.ColumnStatus),
			Search: []string{
				id,
				order.String("customer_name"),
				order.String("customer_email"),
			},
			Record: order,
		}
	}
	return rows
}

// OrderGroups groups orders by departure date and tour title
func (v *ViewService) OrderGroups(params grouping.Params, scope Scope) []grouping.Group {
	rows := v.orderRows(scope)
	list := make([]grouping.Row, 0, len(rows))
	for _, row := range rows {
		list = append(list, row)
	}
	return grouping.Project(list, params, v.opts)
}

// PassengerGroups groups passengers by date, tour title and order. Passengers
// whose order is not in the collection are left out.
func (v *ViewService) PassengerGroups(params grouping.Params, scope Scope) []grouping.Group {
	orderRows := v.orderRows(scope)
	passengers := v.snapshot(entities.KindPassenger)

	list := make([]grouping.Row, 0, len(passengers))
	for id, p := range passengers {
		parent, ok := orderRows[p.String("order_id")]
		if !ok {
			continue
		}
		list = append(list, grouping.Row{
			Date:         parent.Date,
			Title:        parent.Title,
			OrderID:      parent.OrderID,
			Status:       p.String(constants.ColumnStatus),
			ParentStatus: parent.Status,
			Search: []string{
				id,
				p.String("full_name"),
				p.String("phone"),
				parent.Record.String("customer_name"),
			},
			Record: p,
		})
	}

	opts := v.opts
	opts.ByOrder = true
	return grouping.Project(list, params, opts)
}

// Groups dispatches on kind; tours have no grouped view
func (v *ViewService) Groups(kind entities.Kind, params grouping.Params, scope Scope) ([]grouping.Group, bool) {
	switch kind {
	case entities.KindOrder:
		return v.OrderGroups(params, scope), true
	case entities.KindPassenger:
		return v.PassengerGroups(params, scope), true
	}
	return nil, false
}
