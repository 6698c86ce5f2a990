package core

import (
	"time"

	"github.com/recordflow/recordflow/audit"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Record is one unit of work moving through a template's state machine.
type Record struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Code       string `json:"code"`
	TemplateID string `json:"template_id"`

	// CurrentState is a snapshot taken from the template state at entry time,
	// so history stays readable even if the template changes later.
	CurrentState StateSnapshot `json:"current_state"`

	// FieldValues maps field IDs to values. Value types are unconstrained.
	FieldValues map[string]any `json:"field_values,omitempty"`

	// StateHistory holds the snapshots of states already left, oldest first.
	// Append-only.
	StateHistory []StateSnapshot `json:"state_history,omitempty"`

	// ActivityLog receives exactly one entry per mutation. Append-only.
	ActivityLog []audit.Entry `json:"activity_log,omitempty"`

	Comments    []Comment       `json:"comments,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	Metrics     audit.Metrics   `json:"metrics"`

	PrimaryOwner    string   `json:"primary_owner,omitempty"`
	SecondaryOwners []string `json:"secondary_owners,omitempty"`
	Watchers        []string `json:"watchers,omitempty"`

	DueDate  *time.Time `json:"due_date,omitempty"`
	Priority Priority   `json:"priority,omitempty"`
	Tags     []string   `json:"tags,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Locked is a cooperative edit lock. It is advisory: the persistence
	// layer does not enforce it, the manager does.
	Locked     bool       `json:"locked"`
	LockedBy   string     `json:"locked_by,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	LockReason string     `json:"lock_reason,omitempty"`

	Version int64 `json:"version"`

	Deleted   bool       `json:"deleted"`
	DeletedBy string     `json:"deleted_by,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overdue reports whether the record has passed its due date without
// completing.
func (r *Record) Overdue(now time.Time) bool {
	return r.DueDate != nil && r.CompletedAt == nil && now.After(*r.DueDate)
}

// Visited reports whether the record has previously been in the given state.
func (r *Record) Visited(stateID string) bool {
	for _, s := range r.StateHistory {
		if s.StateID == stateID {
			return true
		}
	}
	return false
}

type StateSnapshot struct {
	StateID   string    `json:"state_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	EnteredAt time.Time `json:"entered_at"`
	ChangedBy string    `json:"changed_by"`
}

type Comment struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Author      string       `json:"author"`
	Timestamp   time.Time    `json:"timestamp"`
	Edited      bool         `json:"edited,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
}

type Attachment struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type,omitempty"`
	StorageKey string    `json:"storage_key,omitempty"`
	UploadedBy string    `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type ChecklistItem struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Done        bool       `json:"done"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
