// Package export renders grouped views as CSV and XLSX downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"infinite-experiment/tourdesk/internal/grouping"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// Format is a download file type
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format from a URL or request body
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType is the MIME type served for the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Columns per kind, in output order
var (
	OrderColumns     = []string{"id", "customer_name", "customer_email", "status", "pax_count", "total_price"}
	PassengerColumns = []string{"id", "full_name", "phone", "status"}
)

// ColumnsFor returns the member columns exported for kind
func ColumnsFor(kind entities.Kind) []string {
	if kind == entities.KindPassenger {
		return PassengerColumns
	}
	return OrderColumns
}

var groupColumns = []string{"group_date", "group_title", "order_id", "completed"}

// Sheet is one worksheet of groups
type Sheet struct {
	Name   string
	Groups []grouping.Group
}

func header(columns []string) []string {
	out := make([]string, 0, len(groupColumns)+len(columns))
	out = append(out, groupColumns...)
	return append(out, columns...)
}

// rows flattens groups into one line per member
func rows(groups []grouping.Group, columns []string) [][]string {
	var out [][]string
	for _, g := range groups {
		for _, m := range g.Members {
			line := []string{g.Date, g.Title, g.OrderID, strconv.FormatBool(g.Completed)}
			for _, col := range columns {
				line = append(line, cell(m.Record, col))
			}
			out = append(out, line)
		}
	}
	return out
}

func cell(rec entities.Record, column string) string {
	if column == "id" {
		return rec.ID
	}
	v, ok := rec.Get(column)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// WriteCSV writes a header and one line per group member
func WriteCSV(w io.Writer, groups []grouping.Group, columns []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(columns)); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(rows(groups, columns)); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

// WriteXLSX writes one worksheet per sheet with the same layout as WriteCSV
func WriteXLSX(w io.Writer, sheets []Sheet, columns []string) error {
	f := excelize.NewFile()
	defer f.Close()

	const defaultSheet = "Sheet1"
	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sheet.Name); err != nil {
				return fmt.Errorf("failed to name sheet %s: %w", sheet.Name, err)
			}
		} else if _, err := f.NewSheet(sheet.Name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", sheet.Name, err)
		}

		lines := append([][]string{header(columns)}, rows(sheet.Groups, columns)...)
		for r, line := range lines {
			values := make([]interface{}, len(line))
			for c := range line {
				values[c] = line[c]
			}
			addr, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet.Name, addr, &values); err != nil {
				return fmt.Errorf("failed to write row %d of %s: %w", r+1, sheet.Name, err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}
