package record

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

// KanbanBoard is the board view of one template: a column per state in
// template order, each holding card summaries of the records currently in
// that state.
type KanbanBoard struct {
	TemplateID   string         `json:"template_id"`
	TemplateCode string         `json:"template_code"`
	Columns      []KanbanColumn `json:"columns"`

	// Total counts every record on the board across all columns.
	Total int `json:"total"`
}

type KanbanColumn struct {
	StateID string       `json:"state_id"`
	Name    string       `json:"name"`
	Color   string       `json:"color,omitempty"`
	Final   bool         `json:"final"`
	Cards   []KanbanCard `json:"cards"`

	// Overdue counts the column's cards past their due date; Urgent counts
	// the cards at urgent priority.
	Overdue int `json:"overdue"`
	Urgent  int `json:"urgent"`
}

// KanbanCard is the record summary shown on a board. CardFields carries the
// values of the fields the template marked card-visible, in card order.
type KanbanCard struct {
	RecordID     string        `json:"record_id"`
	Code         string        `json:"code"`
	State        string        `json:"state"`
	PrimaryOwner string        `json:"primary_owner,omitempty"`
	Priority     core.Priority `json:"priority,omitempty"`
	DueDate      string        `json:"due_date,omitempty"`
	Overdue      bool          `json:"overdue"`
	Tags         []string      `json:"tags,omitempty"`

	// Progress is the field-completion ratio of the current state (0-1);
	// ChecklistPercent is checklist progress (0-100).
	Progress         float64 `json:"progress"`
	ChecklistPercent float64 `json:"checklist_percent"`
	Comments         int     `json:"comment_count"`
	Attachments      int     `json:"attachment_count"`

	CardFields []CardField `json:"card_fields,omitempty"`
}

type CardField struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Kanban builds the board for a template. Records whose state no longer
// exists on the template (the state was deleted after they left it, or
// template drift) are grouped into a trailing "unknown" column rather than
// dropped.
func (m *Manager) Kanban(ctx context.Context, id core.Identity, templateID string) (*KanbanBoard, error) {
	ctx, span := m.tracer.Start(ctx, "record.Kanban")
	defer span.End()

	tmpl, err := m.template(ctx, id.TenantID, templateID)
	if err != nil {
		return nil, fmt.Errorf("resolving template: %w", err)
	}

	records, err := m.allRecords(ctx, id, templateID)
	if err != nil {
		return nil, err
	}

	board := &KanbanBoard{TemplateID: tmpl.ID, TemplateCode: tmpl.Code}

	states := append([]*core.State(nil), tmpl.States...)
	sort.SliceStable(states, func(i, j int) bool { return states[i].Order < states[j].Order })

	board.Columns = make([]KanbanColumn, len(states))
	byState := map[string]*KanbanColumn{}
	for i, s := range states {
		board.Columns[i] = KanbanColumn{StateID: s.ID, Name: s.Name, Color: s.Color, Final: s.Final, Cards: []KanbanCard{}}
		byState[s.ID] = &board.Columns[i]
	}

	var orphans KanbanColumn
	now := m.clock.Now()

	for _, rec := range records {
		card := m.card(rec, tmpl, now)

		col, ok := byState[rec.CurrentState.StateID]
		if !ok {
			col = &orphans
		}

		col.Cards = append(col.Cards, card)
		if card.Overdue {
			col.Overdue++
		}
		if card.Priority == core.PriorityUrgent {
			col.Urgent++
		}
		board.Total++
	}

	if len(orphans.Cards) > 0 {
		orphans.StateID = "unknown"
		orphans.Name = "Unknown"
		board.Columns = append(board.Columns, orphans)
	}

	return board, nil
}

func (m *Manager) card(rec *core.Record, tmpl *core.Template, now time.Time) KanbanCard {
	card := KanbanCard{
		RecordID:         rec.ID,
		Code:             rec.Code,
		State:            rec.CurrentState.Name,
		PrimaryOwner:     rec.PrimaryOwner,
		Priority:         rec.Priority,
		Overdue:          rec.Overdue(now),
		Tags:             rec.Tags,
		Progress:         rec.Metrics.FieldCompletion,
		ChecklistPercent: rec.Metrics.CompletionPercent,
		Comments:         len(rec.Comments),
		Attachments:      len(rec.Attachments),
	}
	if rec.DueDate != nil {
		card.DueDate = rec.DueDate.Format("2006-01-02")
	}

	if state := tmpl.State(rec.CurrentState.StateID); state != nil {
		fields := append([]*core.Field(nil), state.Fields...)
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].CardOrder < fields[j].CardOrder })
		for _, f := range fields {
			if !f.CardVisible {
				continue
			}
			if v, ok := rec.FieldValues[f.ID]; ok && hasValue(v) {
				card.CardFields = append(card.CardFields, CardField{Label: f.Label, Value: v})
			}
		}
	}

	return card
}

// allRecords pages through every live record of a template.
func (m *Manager) allRecords(ctx context.Context, id core.Identity, templateID string) ([]*core.Record, error) {
	var all []*core.Record

	page := 1
	for {
		filter := backend.RecordFilter{TemplateID: templateID}
		filter.Page.Number = page
		filter.Page.Limit = 200

		records, total, err := m.store.ListRecords(ctx, id.TenantID, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		if int64(len(all)) >= total || len(records) == 0 {
			return all, nil
		}
		page++
	}
}
