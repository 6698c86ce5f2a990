package record

import (
	"context"

	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/core"
)

// SetFieldValues applies field values produced by an automatic action. The
// mutation is attributed to the system actor and bypasses the edit lock:
// actions run on state entry, not at a user's keyboard.
func (m *Manager) SetFieldValues(ctx context.Context, tenantID, recordID string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}

	id := core.Identity{TenantID: tenantID, ActorID: systemActor}

	_, err := m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		if rec.FieldValues == nil {
			rec.FieldValues = map[string]any{}
		}
		for k, v := range values {
			rec.FieldValues[k] = v
		}

		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryEdit, systemActor,
			"fields computed by automatic action", map[string]any{"fields": len(values)}))
		return nil
	})
	return err
}

// AssignOwner sets the primary owner on behalf of an automatic action.
func (m *Manager) AssignOwner(ctx context.Context, tenantID, recordID, owner string) error {
	if owner == "" {
		return nil
	}

	id := core.Identity{TenantID: tenantID, ActorID: systemActor}

	_, err := m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		previous := rec.PrimaryOwner
		rec.PrimaryOwner = owner

		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryAssignment, systemActor,
			"owner assigned by automatic action",
			map[string]any{"from": previous, "to": owner}))
		return nil
	})
	return err
}
