package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/export"
	"infinite-experiment/tourdesk/internal/grouping"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// ExportService issues signed download links and renders grouped views into files
type ExportService struct {
	views  *ViewService
	signer *common.ExportLinkSigner
	ttl    time.Duration
	now    func() time.Time
}

func NewExportService(views *ViewService, signer *common.ExportLinkSigner, ttl time.Duration) *ExportService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ExportService{views: views, signer: signer, ttl: ttl, now: time.Now}
}

// CreateLink signs req after checking the view and format
func (e *ExportService) CreateLink(req common.ExportRequest) (string, time.Time, error) {
	kind := entities.Kind(req.View)
	if kind != entities.KindOrder && kind != entities.KindPassenger {
		return "", time.Time{}, fmt.Errorf("unsupported export view %q", req.View)
	}
	if _, err := export.ParseFormat(req.Format); err != nil {
		return "", time.Time{}, err
	}
	req.Tab = string(grouping.ParseTab(req.Tab))
	return e.signer.Sign(req, e.ttl)
}

// Redeem consumes a signed link
func (e *ExportService) Redeem(ctx context.Context, token string) (*common.SignedExport, error) {
	return e.signer.Redeem(ctx, token)
}

// Filename is the suggested download name for req
func (e *ExportService) Filename(req common.ExportRequest) string {
	return fmt.Sprintf("%ss-%s-%s.%s", req.View, req.Tab, e.now().UTC().Format("20060102-150405"), req.Format)
}

// Render writes the view described by req with the scope it was signed for
func (e *ExportService) Render(w io.Writer, req common.ExportRequest) error {
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		return err
	}
	kind := entities.Kind(req.View)
	scope := Scope{Role: constants.Role(req.Role), ProviderID: req.ProviderID}
	tab := grouping.ParseTab(req.Tab)
	columns := export.ColumnsFor(kind)

	groupsFor := func(t grouping.Tab) ([]grouping.Group, error) {
		groups, ok := e.views.Groups(kind, grouping.Params{Search: req.Search, Date: req.Date, Tab: t}, scope)
		if !ok {
			return nil, fmt.Errorf("unsupported export view %q", req.View)
		}
		return groups, nil
	}

	if format == export.FormatCSV {
		groups, err := groupsFor(tab)
		if err != nil {
			return err
		}
		return export.WriteCSV(w, groups, columns)
	}

	var sheets []export.Sheet
	if tab == grouping.TabActive || tab == grouping.TabAll {
		groups, err := groupsFor(grouping.TabActive)
		if err != nil {
			return err
		}
		sheets = append(sheets, export.Sheet{Name: "Active", Groups: groups})
	}
	if tab == grouping.TabCompleted || tab == grouping.TabAll {
		groups, err := groupsFor(grouping.TabCompleted)
		if err != nil {
			return err
		}
		sheets = append(sheets, export.Sheet{Name: "Completed", Groups: groups})
	}
	return export.WriteXLSX(w, sheets, columns)
}
