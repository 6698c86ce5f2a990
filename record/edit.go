package record

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/core"
)

// EditInput patches a record. Nil members are left unchanged; FieldValues
// merges per key, last write wins.
type EditInput struct {
	FieldValues     map[string]any `json:"field_values,omitempty"`
	PrimaryOwner    *string        `json:"primary_owner,omitempty"`
	SecondaryOwners *[]string      `json:"secondary_owners,omitempty"`
	Watchers        *[]string      `json:"watchers,omitempty"`
	DueDate         *time.Time     `json:"due_date,omitempty"`
	ClearDueDate    bool           `json:"clear_due_date,omitempty"`
	Priority        *core.Priority `json:"priority,omitempty"`
	Tags            *[]string      `json:"tags,omitempty"`
}

// FieldValidation reports how complete the record's field values are against
// its current state's schema. It is advisory: an incomplete record still
// saves.
type FieldValidation struct {
	Complete        bool     `json:"complete"`
	MissingRequired []string `json:"missing_required,omitempty"`
	Ratio           float64  `json:"ratio"`
}

// Edit applies the patch. It fails with LockedError when the record is
// locked by a different actor. The returned FieldValidation describes the
// result without having blocked the write.
func (m *Manager) Edit(ctx context.Context, id core.Identity, recordID string, input EditInput) (*core.Record, *FieldValidation, error) {
	ctx, span := m.tracer.Start(ctx, "record.Edit")
	defer span.End()

	var validation *FieldValidation

	rec, err := m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		if rec.Locked && rec.LockedBy != id.ActorID {
			return &LockedError{RecordID: rec.ID, LockedBy: rec.LockedBy}
		}

		tmpl, err := m.template(ctx, id.TenantID, rec.TemplateID)
		if err != nil {
			return fmt.Errorf("resolving template: %w", err)
		}

		if input.PrimaryOwner != nil && *input.PrimaryOwner != rec.PrimaryOwner {
			previous := rec.PrimaryOwner
			rec.PrimaryOwner = *input.PrimaryOwner

			rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryAssignment, id.ActorID,
				fmt.Sprintf("owner changed from %q to %q", previous, rec.PrimaryOwner),
				map[string]any{"from": previous, "to": rec.PrimaryOwner},
			))
		}
		if input.SecondaryOwners != nil {
			rec.SecondaryOwners = *input.SecondaryOwners
		}
		if input.Watchers != nil {
			rec.Watchers = *input.Watchers
		}
		if input.ClearDueDate {
			rec.DueDate = nil
		} else if input.DueDate != nil {
			rec.DueDate = input.DueDate
		}
		if input.Priority != nil {
			rec.Priority = *input.Priority
		}
		if input.Tags != nil {
			rec.Tags = *input.Tags
		}

		if len(input.FieldValues) > 0 {
			if rec.FieldValues == nil {
				rec.FieldValues = map[string]any{}
			}

			changed := make([]string, 0, len(input.FieldValues))
			for k, v := range input.FieldValues {
				rec.FieldValues[k] = v
				changed = append(changed, k)
			}
			sort.Strings(changed)

			rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryEdit, id.ActorID,
				fmt.Sprintf("updated fields: %s", strings.Join(changed, ", ")),
				map[string]any{"fields": changed},
			))
		}

		validation = validateFields(rec, tmpl)
		m.refreshMetrics(rec, tmpl)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return rec, validation, nil
}

// validateFields checks the record's values against its current state's
// field schema.
func validateFields(rec *core.Record, tmpl *core.Template) *FieldValidation {
	state := tmpl.State(rec.CurrentState.StateID)
	if state == nil {
		return &FieldValidation{Complete: true, Ratio: 1}
	}

	validation := &FieldValidation{Complete: true}

	visible := 0
	filled := 0
	for _, f := range state.Fields {
		if !f.Visible {
			continue
		}
		visible++

		if hasValue(rec.FieldValues[f.ID]) {
			filled++
		} else if f.Required {
			validation.Complete = false
			validation.MissingRequired = append(validation.MissingRequired, f.Label)
		}
	}

	validation.Ratio = audit.FieldCompletion(filled, visible)
	return validation
}

func hasValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	}
	return true
}
