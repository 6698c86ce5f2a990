// Package record owns workflow record instances: their field values, state
// machine position, collaboration artifacts and audit trail.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/recordflow/recordflow/actions"
	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/metrics"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/internal/metrickeys"
	"github.com/recordflow/recordflow/log"
	"github.com/recordflow/recordflow/numbering"
)

const conflictRetries = 3

// systemActor marks mutations made by automatic actions rather than a user.
const systemActor = "system"

type options struct {
	*backend.Options

	Notifier         actions.Notifier
	TemplateCacheTTL time.Duration
}

type ManagerOption func(*options)

// WithNotifier wires the notification collaborator used for comment mentions.
func WithNotifier(n actions.Notifier) ManagerOption {
	return func(o *options) {
		o.Notifier = n
	}
}

// WithTemplateCacheTTL overrides how long resolved templates are cached.
func WithTemplateCacheTTL(ttl time.Duration) ManagerOption {
	return func(o *options) {
		o.TemplateCacheTTL = ttl
	}
}

// WithBackendOptions allows to pass generic backend options.
func WithBackendOptions(opts ...backend.BackendOption) ManagerOption {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

type Manager struct {
	store      backend.Store
	numbering  *numbering.Generator
	dispatcher *actions.Dispatcher
	notifier   actions.Notifier

	templates *ttlcache.Cache[string, *core.Template]

	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Client
	tracer  trace.Tracer
}

func NewManager(store backend.Store, gen *numbering.Generator, dispatcher *actions.Dispatcher, opts ...ManagerOption) *Manager {
	backendOptions := backend.ApplyOptions()
	o := &options{
		Options:          &backendOptions,
		TemplateCacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.Notifier == nil {
		o.Notifier = &actions.LoggingNotifier{Logger: o.Logger}
	}

	m := &Manager{
		store:      store,
		numbering:  gen,
		dispatcher: dispatcher,
		notifier:   o.Notifier,
		templates: ttlcache.New[string, *core.Template](
			ttlcache.WithTTL[string, *core.Template](o.TemplateCacheTTL),
		),
		clock:   o.Clock,
		logger:  o.Logger,
		metrics: o.Metrics,
		tracer:  o.TracerProvider.Tracer(backend.TracerName),
	}

	if dispatcher != nil {
		dispatcher.SetRecordMutator(m)
	}

	return m
}

// CreateInput is the input for creating a record.
type CreateInput struct {
	TemplateID      string         `json:"template_id"`
	FieldValues     map[string]any `json:"field_values,omitempty"`
	PrimaryOwner    string         `json:"primary_owner,omitempty"`
	SecondaryOwners []string       `json:"secondary_owners,omitempty"`
	Watchers        []string       `json:"watchers,omitempty"`
	DueDate         *time.Time     `json:"due_date,omitempty"`
	Priority        core.Priority  `json:"priority,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
}

// Create places a new record in the template's initial state, issues its
// code and fires the state's on-create actions. The template must be active
// and not deleted.
func (m *Manager) Create(ctx context.Context, id core.Identity, input CreateInput) (*core.Record, error) {
	ctx, span := m.tracer.Start(ctx, "record.Create",
		trace.WithAttributes(attribute.String(log.TemplateIDKey, input.TemplateID)))
	defer span.End()

	if input.TemplateID == "" {
		return nil, validationf("template_id is required")
	}

	tmpl, err := m.store.GetTemplate(ctx, id.TenantID, input.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl.Deleted {
		return nil, backend.ErrTemplateNotFound
	}
	if !tmpl.Active {
		return nil, validationf("template %q is inactive", tmpl.Code)
	}

	initial := tmpl.InitialState()
	if initial == nil {
		return nil, validationf("template %q has no states", tmpl.Code)
	}

	// A record is never persisted without a code; counter failures abort.
	code, err := m.numbering.GenerateCode(ctx, id.TenantID, numberingConfig(tmpl))
	if err != nil {
		return nil, fmt.Errorf("generating record code: %w", err)
	}

	now := m.clock.Now()
	rec := &core.Record{
		ID:         uuid.NewString(),
		TenantID:   id.TenantID,
		Code:       code,
		TemplateID: tmpl.ID,
		CurrentState: core.StateSnapshot{
			StateID:   initial.ID,
			Name:      initial.Name,
			Color:     initial.Color,
			EnteredAt: now,
			ChangedBy: id.ActorID,
		},
		FieldValues:     cloneValues(input.FieldValues),
		PrimaryOwner:    input.PrimaryOwner,
		SecondaryOwners: input.SecondaryOwners,
		Watchers:        input.Watchers,
		DueDate:         input.DueDate,
		Priority:        input.Priority,
		Tags:            input.Tags,
		Version:         1,
		CreatedBy:       id.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryCreation, id.ActorID,
		fmt.Sprintf("created in state %q", initial.Name),
		map[string]any{"state_id": initial.ID, "code": code},
	))

	m.refreshMetrics(rec, tmpl)

	if err := m.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}

	if err := m.store.IncrementTemplateUsage(ctx, id.TenantID, tmpl.ID); err != nil {
		// Usage stats are advisory; the record is already committed.
		m.logger.WarnContext(ctx, "incrementing template usage",
			log.TemplateIDKey, tmpl.ID, "error", err)
	}

	m.logger.InfoContext(ctx, "created record",
		log.TenantIDKey, id.TenantID,
		log.RecordIDKey, rec.ID,
		log.RecordCodeKey, rec.Code,
		log.TemplateCodeKey, tmpl.Code,
	)
	m.metrics.Counter(metrickeys.RecordCreated, metrics.Tags{metrickeys.TemplateCode: tmpl.Code}, 1)

	m.dispatcher.Run(ctx, rec, initial, core.TriggerOnCreate)

	return rec, nil
}

// Get returns the record, or backend.ErrRecordNotFound when it does not
// exist or is archived.
func (m *Manager) Get(ctx context.Context, id core.Identity, recordID string) (*core.Record, error) {
	rec, err := m.store.GetRecord(ctx, id.TenantID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, backend.ErrRecordNotFound
	}
	return rec, nil
}

func (m *Manager) List(ctx context.Context, id core.Identity, filter backend.RecordFilter) ([]*core.Record, int64, error) {
	return m.store.ListRecords(ctx, id.TenantID, filter)
}

// Close releases the template cache and waits for in-flight automatic
// actions.
func (m *Manager) Close() error {
	m.templates.Stop()
	if m.dispatcher != nil {
		return m.dispatcher.Close()
	}
	return nil
}

// template resolves the template through a short-lived cache; record
// operations tolerate definitions a few seconds stale.
func (m *Manager) template(ctx context.Context, tenantID, templateID string) (*core.Template, error) {
	key := tenantID + "/" + templateID

	if item := m.templates.Get(key); item != nil {
		m.metrics.Counter(metrickeys.TemplateCacheHit, metrics.Tags{}, 1)
		return item.Value(), nil
	}

	tmpl, err := m.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	m.templates.Set(key, tmpl, ttlcache.DefaultTTL)
	m.metrics.Gauge(metrickeys.TemplateCacheSize, metrics.Tags{}, int64(m.templates.Len()))

	return tmpl, nil
}

// mutate runs a load-mutate-save cycle on one record, retrying on version
// conflicts. fn sees a freshly loaded record on every attempt.
func (m *Manager) mutate(ctx context.Context, id core.Identity, recordID string, fn func(*core.Record) error) (*core.Record, error) {
	var result *core.Record

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), conflictRetries), ctx)

	err := backoff.Retry(func() error {
		rec, err := m.Get(ctx, id, recordID)
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := fn(rec); err != nil {
			return backoff.Permanent(err)
		}

		rec.Version++
		rec.UpdatedAt = m.clock.Now()

		if err := m.store.UpdateRecord(ctx, rec); err != nil {
			if errors.Is(err, backend.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}

		result = rec
		return nil
	}, bo)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (m *Manager) entry(entryType audit.EntryType, actor, description string, details map[string]any) audit.Entry {
	return audit.Entry{
		ID:          uuid.NewString(),
		Type:        entryType,
		Description: description,
		Actor:       actor,
		Timestamp:   m.clock.Now(),
		Details:     details,
	}
}

// numberingConfig resolves the template's numbering policy, falling back to
// a yearly-resetting REG stream.
func numberingConfig(tmpl *core.Template) core.CounterConfig {
	cfg := tmpl.AdvancedConfig.Numbering
	if cfg.Kind == "" {
		cfg = core.CounterConfig{
			Kind:        "registro",
			Prefix:      "REG",
			Format:      "{prefix}-{year}-{number}",
			ResetYearly: true,
		}
	}
	return cfg
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
