// Package audit holds the append-only activity-log entry types and the
// derived metrics recorded on every record mutation. Entries are never
// rewritten once appended.
package audit

import "time"

type EntryType string

const (
	EntryCreation    EntryType = "creation"
	EntryEdit        EntryType = "edit"
	EntryStateChange EntryType = "state_change"
	EntryComment     EntryType = "comment"
	EntryFileUpload  EntryType = "file_upload"
	EntryChecklist   EntryType = "checklist"
	EntryAssignment  EntryType = "assignment"
	EntryLock        EntryType = "lock"
	EntryUnlock      EntryType = "unlock"
	EntryArchive     EntryType = "archive"
	EntryClone       EntryType = "clone"
)

// Entry is one activity-log line. Every mutation appends exactly one.
type Entry struct {
	ID          string         `json:"id"`
	Type        EntryType      `json:"type"`
	Description string         `json:"description"`
	Actor       string         `json:"actor"`
	Timestamp   time.Time      `json:"timestamp"`
	Details     map[string]any `json:"details,omitempty"`
}

// Metrics are derived from a record's history and checklist. They are
// recomputed on write, never edited directly.
type Metrics struct {
	// TotalElapsed is the time from creation until completion, or until now
	// for records still in flight.
	TotalElapsed time.Duration `json:"total_elapsed"`

	// TimeInState maps a state ID to the cumulative time spent in it.
	TimeInState map[string]time.Duration `json:"time_in_state,omitempty"`

	// Resends counts transitions into a previously visited state.
	Resends int `json:"resends"`

	// Rejections counts transitions back to an earlier state in the
	// template's order, the usual shape of a review rejection.
	Rejections int `json:"rejections"`

	// CompletionPercent is checklist progress, 0-100.
	CompletionPercent float64 `json:"completion_percent"`

	// FieldCompletion is the ratio of the current state's visible fields
	// that have a non-empty value, 0-1.
	FieldCompletion float64 `json:"field_completion"`
}

// ChecklistCompletion returns done/total as a 0-100 percentage. A record with
// no checklist counts as 0.
func ChecklistCompletion(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// FieldCompletion returns filled/total clamped to [0, 1].
func FieldCompletion(filled, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(filled) / float64(total)
}
