package record

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

// Export writes every record matching the filter to w. CSV flattens each
// record to one row with a column per template field; JSON streams the full
// record documents as an array.
func (m *Manager) Export(ctx context.Context, id core.Identity, templateID string, format ExportFormat, filter backend.RecordFilter, w io.Writer) error {
	ctx, span := m.tracer.Start(ctx, "record.Export")
	defer span.End()

	tmpl, err := m.template(ctx, id.TenantID, templateID)
	if err != nil {
		return fmt.Errorf("resolving template: %w", err)
	}

	filter.TemplateID = templateID

	var all []*core.Record
	page := 1
	for {
		filter.Page.Number = page
		filter.Page.Limit = 200

		records, total, err := m.store.ListRecords(ctx, id.TenantID, filter)
		if err != nil {
			return err
		}
		all = append(all, records...)

		if int64(len(all)) >= total || len(records) == 0 {
			break
		}
		page++
	}

	switch format {
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	case ExportCSV, "":
		return m.exportCSV(tmpl, all, w)
	default:
		return validationf("unsupported export format %q", format)
	}
}

func (m *Manager) exportCSV(tmpl *core.Template, records []*core.Record, w io.Writer) error {
	// One column per distinct field across all states, in state then field
	// order. Field IDs repeat across states when a field is shown in several
	// of them; the first occurrence wins.
	type column struct {
		id    string
		label string
	}

	var columns []column
	seen := map[string]bool{}

	states := append([]*core.State(nil), tmpl.States...)
	sort.SliceStable(states, func(i, j int) bool { return states[i].Order < states[j].Order })
	for _, s := range states {
		for _, f := range s.Fields {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			columns = append(columns, column{id: f.ID, label: f.Label})
		}
	}

	cw := csv.NewWriter(w)

	header := []string{"code", "state", "owner", "priority", "due_date", "created_at", "completed_at"}
	for _, c := range columns {
		header = append(header, c.label)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Code,
			rec.CurrentState.Name,
			rec.PrimaryOwner,
			string(rec.Priority),
			formatDate(rec.DueDate),
			rec.CreatedAt.Format(time.RFC3339),
			formatDate(rec.CompletedAt),
		}
		for _, c := range columns {
			row = append(row, cellValue(rec.FieldValues[c.id]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func cellValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, "; ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, cellValue(p))
		}
		return strings.Join(parts, "; ")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
