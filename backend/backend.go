package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/recordflow/recordflow/core"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrRecordNotFound   = errors.New("record not found")
	ErrCounterNotFound  = errors.New("counter not found")

	// ErrVersionConflict is returned by Update* when the stored version does
	// not match the version the caller read. Callers retry by re-reading and
	// re-applying their mutation.
	ErrVersionConflict = errors.New("version conflict")

	ErrCodeExists = errors.New("code already exists")
)

type ErrNotSupported struct {
	Message string
}

func (e ErrNotSupported) Error() string {
	return fmt.Sprintf("not supported: %s", e.Message)
}

const TracerName = "recordflow"

// Store is the persistence contract for the workflow engine. Documents are
// stored whole; the scalar columns/fields used for filtering are derived from
// the document on write.
type Store interface {
	TemplateStore
	RecordStore
	CounterStore

	// Close closes any underlying resources
	Close() error
}

type TemplateStore interface {
	// CreateTemplate persists a new template. Fails with ErrCodeExists when
	// the (tenant, code) pair is already taken.
	CreateTemplate(ctx context.Context, t *core.Template) error

	// GetTemplate returns the template, including soft-deleted ones. Callers
	// decide whether a deleted template is acceptable for their operation.
	GetTemplate(ctx context.Context, tenantID, templateID string) (*core.Template, error)

	// ListTemplates returns templates matching the filter plus the total
	// count before pagination.
	ListTemplates(ctx context.Context, tenantID string, filter TemplateFilter) ([]*core.Template, int64, error)

	// UpdateTemplate replaces the stored document. The template's version
	// must already be bumped by the caller; the store compares against
	// version-1 and fails with ErrVersionConflict on mismatch.
	UpdateTemplate(ctx context.Context, t *core.Template) error

	// TemplateCodeExists reports whether a template with the given code
	// exists for the tenant, regardless of soft-delete state.
	TemplateCodeExists(ctx context.Context, tenantID, code string) (bool, error)

	// IncrementTemplateUsage atomically bumps the template's instance count.
	IncrementTemplateUsage(ctx context.Context, tenantID, templateID string) error
}

type RecordStore interface {
	CreateRecord(ctx context.Context, r *core.Record) error

	GetRecord(ctx context.Context, tenantID, recordID string) (*core.Record, error)

	ListRecords(ctx context.Context, tenantID string, filter RecordFilter) ([]*core.Record, int64, error)

	// UpdateRecord replaces the stored document with the same version
	// contract as UpdateTemplate.
	UpdateRecord(ctx context.Context, r *core.Record) error

	// CountRecords counts non-deleted records of a template, optionally
	// restricted to those currently in stateID.
	CountRecords(ctx context.Context, tenantID, templateID, stateID string) (int64, error)
}

// CounterStore is the single atomic-increment abstraction behind the
// numbering generator. Implementations must increment-and-read in one
// primitive; a read-then-write sequence hands out duplicate numbers under
// concurrency.
type CounterStore interface {
	// IncrementCounter atomically increments the counter for key, creating
	// it at 1 when absent, and returns the new value.
	IncrementCounter(ctx context.Context, key core.CounterKey) (int64, error)

	// GetCounter returns the current value without incrementing. Returns
	// ErrCounterNotFound for a key that was never incremented.
	GetCounter(ctx context.Context, key core.CounterKey) (int64, error)

	// ListCounters returns all counter streams of a tenant.
	ListCounters(ctx context.Context, tenantID string) ([]core.CounterInfo, error)

	// ResetCounters removes the counters of the given kinds for a tenant and
	// returns how many streams were reset.
	ResetCounters(ctx context.Context, tenantID string, kinds []string) (int64, error)

	// SaveCounterConfig upserts the numbering config for (tenant, kind).
	SaveCounterConfig(ctx context.Context, tenantID string, cfg core.CounterConfig) error

	// GetCounterConfig returns the stored config, or ErrCounterNotFound.
	GetCounterConfig(ctx context.Context, tenantID, kind string) (core.CounterConfig, error)

	// ListCounterConfigs returns all stored configs of a tenant.
	ListCounterConfigs(ctx context.Context, tenantID string) ([]core.CounterConfig, error)
}
