package record

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/backend/metrics"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/internal/metrickeys"
	"github.com/recordflow/recordflow/log"
)

// Clone creates a fresh record from an existing one: field values, owners
// and priority carry over; history, comments, attachments, checklist state
// and metrics do not. The clone keeps the source's current state, entered
// anew at clone time, and gets a newly generated code.
func (m *Manager) Clone(ctx context.Context, id core.Identity, recordID string) (*core.Record, error) {
	ctx, span := m.tracer.Start(ctx, "record.Clone")
	defer span.End()

	src, err := m.Get(ctx, id, recordID)
	if err != nil {
		return nil, err
	}

	tmpl, err := m.store.GetTemplate(ctx, id.TenantID, src.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Deleted || !tmpl.Active {
		return nil, validationf("template %q is no longer available", src.TemplateID)
	}

	code, err := m.numbering.GenerateCode(ctx, id.TenantID, numberingConfig(tmpl))
	if err != nil {
		return nil, fmt.Errorf("generating record code: %w", err)
	}

	now := m.clock.Now()
	clone := &core.Record{
		ID:         uuid.NewString(),
		TenantID:   id.TenantID,
		Code:       code,
		TemplateID: tmpl.ID,
		CurrentState: core.StateSnapshot{
			StateID:   src.CurrentState.StateID,
			Name:      src.CurrentState.Name,
			Color:     src.CurrentState.Color,
			EnteredAt: now,
			ChangedBy: id.ActorID,
		},
		FieldValues:     cloneValues(src.FieldValues),
		PrimaryOwner:    src.PrimaryOwner,
		SecondaryOwners: append([]string(nil), src.SecondaryOwners...),
		Watchers:        append([]string(nil), src.Watchers...),
		Priority:        src.Priority,
		Tags:            append([]string(nil), src.Tags...),
		Version:         1,
		CreatedBy:       id.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Checklist items carry over reset to not-done.
	for _, item := range src.Checklist {
		clone.Checklist = append(clone.Checklist, core.ChecklistItem{
			ID:   uuid.NewString(),
			Text: item.Text,
		})
	}

	clone.ActivityLog = append(clone.ActivityLog, m.entry(audit.EntryClone, id.ActorID,
		fmt.Sprintf("cloned from %s", src.Code),
		map[string]any{"source_record_id": src.ID, "source_code": src.Code},
	))

	m.refreshMetrics(clone, tmpl)

	if err := m.store.CreateRecord(ctx, clone); err != nil {
		return nil, fmt.Errorf("creating clone: %w", err)
	}

	if err := m.store.IncrementTemplateUsage(ctx, id.TenantID, tmpl.ID); err != nil {
		m.logger.WarnContext(ctx, "incrementing template usage",
			log.TemplateIDKey, tmpl.ID, "error", err)
	}

	m.logger.InfoContext(ctx, "cloned record",
		log.TenantIDKey, id.TenantID,
		log.RecordCodeKey, clone.Code,
		"source_code", src.Code,
	)

	return clone, nil
}

// Archive soft-deletes the record. The row stays behind for audit and for
// template usage counts; reads through Get treat it as gone.
func (m *Manager) Archive(ctx context.Context, id core.Identity, recordID string) error {
	rec, err := m.store.GetRecord(ctx, id.TenantID, recordID)
	if err != nil {
		return err
	}
	if rec.Deleted {
		return &AlreadyArchivedError{RecordID: rec.ID}
	}

	_, err = m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		if rec.Deleted {
			return &AlreadyArchivedError{RecordID: rec.ID}
		}
		if rec.Locked && rec.LockedBy != id.ActorID {
			return &LockedError{RecordID: rec.ID, LockedBy: rec.LockedBy}
		}

		now := m.clock.Now()
		rec.Deleted = true
		rec.DeletedBy = id.ActorID
		rec.DeletedAt = &now

		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryArchive, id.ActorID,
			"archived record", nil))
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "archived record",
		log.TenantIDKey, id.TenantID,
		log.RecordIDKey, recordID,
	)
	m.metrics.Counter(metrickeys.RecordArchived, metrics.Tags{}, 1)

	return nil
}
