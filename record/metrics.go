package record

import (
	"time"

	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/core"
)

// refreshMetrics recomputes the record's derived metrics. It is called on
// every mutation just before the write, so stored metrics always reflect the
// record as persisted. Resends and Rejections are maintained incrementally by
// ChangeState and are left untouched here.
func (m *Manager) refreshMetrics(rec *core.Record, tmpl *core.Template) {
	now := m.clock.Now()

	end := now
	if rec.CompletedAt != nil {
		end = *rec.CompletedAt
	}
	rec.Metrics.TotalElapsed = end.Sub(rec.CreatedAt)

	timeInState := map[string]time.Duration{}
	for i, snap := range rec.StateHistory {
		left := end
		if i+1 < len(rec.StateHistory) {
			left = rec.StateHistory[i+1].EnteredAt
		} else {
			left = rec.CurrentState.EnteredAt
		}
		timeInState[snap.StateID] += left.Sub(snap.EnteredAt)
	}
	timeInState[rec.CurrentState.StateID] += end.Sub(rec.CurrentState.EnteredAt)
	rec.Metrics.TimeInState = timeInState

	done := 0
	for _, item := range rec.Checklist {
		if item.Done {
			done++
		}
	}
	rec.Metrics.CompletionPercent = audit.ChecklistCompletion(done, len(rec.Checklist))

	if state := tmpl.State(rec.CurrentState.StateID); state != nil {
		visible, filled := 0, 0
		for _, f := range state.Fields {
			if !f.Visible {
				continue
			}
			visible++
			if hasValue(rec.FieldValues[f.ID]) {
				filled++
			}
		}
		rec.Metrics.FieldCompletion = audit.FieldCompletion(filled, visible)
	}
}
