package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/recordflow/recordflow/actions"
	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/log"
)

// CommentInput adds a comment. Mentions reference user IDs; ReplyTo
// references another comment on the same record.
type CommentInput struct {
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
	ReplyTo  string   `json:"reply_to,omitempty"`
}

// Comment appends a comment and notifies mentioned users. Comments are
// allowed on locked records; the lock only guards edits.
func (m *Manager) Comment(ctx context.Context, id core.Identity, recordID string, input CommentInput) (*core.Record, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, validationf("comment text is required")
	}

	rec, err := m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		rec.Comments = append(rec.Comments, core.Comment{
			ID:        uuid.NewString(),
			Text:      input.Text,
			Author:    id.ActorID,
			Timestamp: m.clock.Now(),
			Mentions:  input.Mentions,
			ReplyTo:   input.ReplyTo,
		})

		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryComment, id.ActorID,
			"added a comment", map[string]any{"mentions": input.Mentions}))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(input.Mentions) > 0 {
		// Notification failures never fail the comment.
		if err := m.notifier.Notify(ctx, actions.Notification{
			Recipients: input.Mentions,
			Subject:    fmt.Sprintf("%s mentioned you on %s", id.ActorID, rec.Code),
			RecordID:   rec.ID,
		}); err != nil {
			m.logger.WarnContext(ctx, "notifying mentions",
				log.RecordCodeKey, rec.Code, "error", err)
		}
	}

	return rec, nil
}

// AttachmentInput describes an uploaded file. The bytes themselves live in
// object storage under StorageKey; the record only keeps the reference.
type AttachmentInput struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
}

func (m *Manager) AddAttachment(ctx context.Context, id core.Identity, recordID string, input AttachmentInput) (*core.Record, error) {
	if input.Name == "" {
		return nil, validationf("attachment name is required")
	}

	return m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		if rec.Locked && rec.LockedBy != id.ActorID {
			return &LockedError{RecordID: rec.ID, LockedBy: rec.LockedBy}
		}

		rec.Attachments = append(rec.Attachments, core.Attachment{
			ID:         uuid.NewString(),
			Name:       input.Name,
			Size:       input.Size,
			MimeType:   input.MimeType,
			StorageKey: input.StorageKey,
			UploadedBy: id.ActorID,
			UploadedAt: m.clock.Now(),
		})

		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryFileUpload, id.ActorID,
			fmt.Sprintf("uploaded %q", input.Name), map[string]any{"name": input.Name, "size": input.Size}))
		return nil
	})
}

// ChecklistInput replaces or extends the checklist. Items with an ID update
// the matching item; items without one are appended.
type ChecklistInput struct {
	Items []ChecklistItemInput `json:"items"`
}

type ChecklistItemInput struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
	Done *bool  `json:"done,omitempty"`
}

// UpsertChecklist applies the item patches. Marking an item done stamps who
// and when; unmarking clears both.
func (m *Manager) UpsertChecklist(ctx context.Context, id core.Identity, recordID string, input ChecklistInput) (*core.Record, error) {
	return m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		if rec.Locked && rec.LockedBy != id.ActorID {
			return &LockedError{RecordID: rec.ID, LockedBy: rec.LockedBy}
		}

		tmpl, err := m.template(ctx, id.TenantID, rec.TemplateID)
		if err != nil {
			return fmt.Errorf("resolving template: %w", err)
		}

		now := m.clock.Now()
		for _, item := range input.Items {
			if item.ID == "" {
				if strings.TrimSpace(item.Text) == "" {
					return validationf("checklist item text is required")
				}
				rec.Checklist = append(rec.Checklist, core.ChecklistItem{
					ID:   uuid.NewString(),
					Text: item.Text,
				})
				continue
			}

			for i := range rec.Checklist {
				existing := &rec.Checklist[i]
				if existing.ID != item.ID {
					continue
				}
				if item.Text != "" {
					existing.Text = item.Text
				}
				if item.Done != nil && *item.Done != existing.Done {
					existing.Done = *item.Done
					if existing.Done {
						completed := now
						existing.CompletedBy = id.ActorID
						existing.CompletedAt = &completed
					} else {
						existing.CompletedBy = ""
						existing.CompletedAt = nil
					}
				}
				break
			}
		}

		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryChecklist, id.ActorID,
			"updated checklist", map[string]any{"items": len(input.Items)}))

		m.refreshMetrics(rec, tmpl)
		return nil
	})
}

// LockInput optionally explains why the record is being locked. Ignored on
// unlock.
type LockInput struct {
	Reason string `json:"reason,omitempty"`
}

// ToggleLock flips the cooperative edit lock. Anyone in the tenant may
// unlock, including records locked by someone else; both actors end up in
// the activity log, so foreign unlocks are visible rather than forbidden.
func (m *Manager) ToggleLock(ctx context.Context, id core.Identity, recordID string, input LockInput) (*core.Record, error) {
	rec, err := m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		now := m.clock.Now()

		if rec.Locked {
			holder := rec.LockedBy
			rec.Locked = false
			rec.LockedBy = ""
			rec.LockedAt = nil
			rec.LockReason = ""

			rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryUnlock, id.ActorID,
				fmt.Sprintf("unlocked record held by %q", holder),
				map[string]any{"held_by": holder}))
			return nil
		}

		rec.Locked = true
		rec.LockedBy = id.ActorID
		rec.LockedAt = &now
		rec.LockReason = input.Reason

		details := map[string]any{}
		if input.Reason != "" {
			details["reason"] = input.Reason
		}
		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryLock, id.ActorID,
			"locked record", details))
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "toggled record lock",
		log.TenantIDKey, id.TenantID,
		log.RecordCodeKey, rec.Code,
		log.ActorIDKey, id.ActorID,
		"locked", rec.Locked,
	)

	return rec, nil
}
