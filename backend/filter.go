package backend

import (
	"time"

	"github.com/recordflow/recordflow/core"
)

// Page is 1-based pagination. A zero Limit falls back to the store default.
type Page struct {
	Number int
	Limit  int
}

const DefaultPageLimit = 25

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	return p
}

// Offset returns the row offset for the normalized page.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Limit
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type TemplateFilter struct {
	// Active filters on the active flag when non-nil.
	Active *bool

	// Category and Module match the template's grouping labels exactly.
	Category string
	Module   string

	// Search matches name, description and code, case-insensitively.
	Search string

	// IncludeDeleted includes soft-deleted templates.
	IncludeDeleted bool

	Page Page
}

type RecordFilter struct {
	TemplateID string
	StateID    string
	Owner      string
	Priority   core.Priority

	// Overdue selects records past their due date and not completed.
	Overdue *bool

	// Search matches the record code and current state name.
	Search string

	CreatedFrom *time.Time
	CreatedTo   *time.Time

	// IncludeArchived includes soft-deleted records.
	IncludeArchived bool

	// SortBy is one of "created_at", "updated_at", "due_date", "code",
	// "priority". Empty sorts by created_at.
	SortBy        string
	SortDirection SortDirection

	Page Page
}
