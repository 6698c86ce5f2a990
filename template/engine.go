// Package template owns the per-tenant workflow definitions: states,
// transitions, field schemas and automatic-action rules. Definitions are
// open data validated on save, not generated types; the schema is only known
// at runtime.
package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/metrics"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/internal/metrickeys"
	"github.com/recordflow/recordflow/internal/slug"
	"github.com/recordflow/recordflow/log"
)

const (
	codePrefix   = "PLANT-"
	codeStemLen  = 12
	maxCodeTries = 1000
)

// conflictRetries bounds how often a load-mutate-save cycle is retried when
// another writer got in between.
const conflictRetries = 3

type Engine struct {
	store   backend.Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Client
	tracer  trace.Tracer
}

func NewEngine(store backend.Store, opts ...backend.BackendOption) *Engine {
	options := backend.ApplyOptions(opts...)

	return &Engine{
		store:   store,
		clock:   options.Clock,
		logger:  options.Logger,
		metrics: options.Metrics,
		tracer:  options.TracerProvider.Tracer(backend.TracerName),
	}
}

// Def is the input for creating a template.
type Def struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description,omitempty"`
	Category    string                       `json:"category,omitempty"`
	Module      string                       `json:"module,omitempty"`
	States      []*core.State                `json:"states,omitempty"`
	Visual      core.VisualConfig            `json:"visual_config,omitempty"`
	Advanced    core.AdvancedConfig          `json:"advanced_config,omitempty"`
	Permissions map[core.Capability][]string `json:"permissions,omitempty"`
}

// Create validates the definition, generates a unique tenant-scoped code and
// persists the template.
func (e *Engine) Create(ctx context.Context, id core.Identity, def Def) (*core.Template, error) {
	ctx, span := e.tracer.Start(ctx, "template.Create",
		trace.WithAttributes(attribute.String(log.TenantIDKey, id.TenantID)))
	defer span.End()

	if def.Name == "" {
		return nil, validationf("template name is required")
	}

	states, err := normalizeStates(def.States)
	if err != nil {
		return nil, err
	}

	code, err := e.generateCode(ctx, id.TenantID, def.Name)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	t := &core.Template{
		ID:             uuid.NewString(),
		TenantID:       id.TenantID,
		Code:           code,
		Name:           def.Name,
		Description:    def.Description,
		Category:       def.Category,
		Module:         def.Module,
		Active:         true,
		States:         states,
		VisualConfig:   def.Visual,
		AdvancedConfig: def.Advanced,
		Permissions:    def.Permissions,
		Audit: core.Audit{
			CreatedBy: id.ActorID,
			CreatedAt: now,
			UpdatedBy: id.ActorID,
			UpdatedAt: now,
			Version:   1,
			ChangeHistory: []core.ChangeEntry{
				{At: now, By: id.ActorID, Action: "create"},
			},
		},
	}

	if err := e.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("creating template: %w", err)
	}

	e.logger.InfoContext(ctx, "created template",
		log.TenantIDKey, id.TenantID,
		log.TemplateIDKey, t.ID,
		log.TemplateCodeKey, t.Code,
	)
	e.metrics.Counter(metrickeys.TemplateCreated, metrics.Tags{}, 1)

	return t, nil
}

// Get returns the template, or backend.ErrTemplateNotFound when it does not
// exist or is soft-deleted.
func (e *Engine) Get(ctx context.Context, id core.Identity, templateID string) (*core.Template, error) {
	t, err := e.store.GetTemplate(ctx, id.TenantID, templateID)
	if err != nil {
		return nil, err
	}

	if t.Deleted {
		return nil, backend.ErrTemplateNotFound
	}

	return t, nil
}

func (e *Engine) List(ctx context.Context, id core.Identity, filter backend.TemplateFilter) ([]*core.Template, int64, error) {
	return e.store.ListTemplates(ctx, id.TenantID, filter)
}

// Patch replaces template-level fields. Nil members are left unchanged.
type Patch struct {
	Name        *string                      `json:"name,omitempty"`
	Description *string                      `json:"description,omitempty"`
	Category    *string                      `json:"category,omitempty"`
	Module      *string                      `json:"module,omitempty"`
	Visual      *core.VisualConfig           `json:"visual_config,omitempty"`
	Advanced    *core.AdvancedConfig         `json:"advanced_config,omitempty"`
	Permissions map[core.Capability][]string `json:"permissions,omitempty"`
}

// Update applies the patch, bumps the version and appends a change-history
// entry carrying before/after snapshots of the touched fields.
func (e *Engine) Update(ctx context.Context, id core.Identity, templateID string, patch Patch) (*core.Template, error) {
	ctx, span := e.tracer.Start(ctx, "template.Update",
		trace.WithAttributes(attribute.String(log.TemplateIDKey, templateID)))
	defer span.End()

	if patch.Name != nil && *patch.Name == "" {
		return nil, validationf("template name cannot be empty")
	}

	return e.mutate(ctx, id, templateID, func(t *core.Template) error {
		before := map[string]any{}
		after := map[string]any{}

		if patch.Name != nil && *patch.Name != t.Name {
			before["name"], after["name"] = t.Name, *patch.Name
			t.Name = *patch.Name
		}
		if patch.Description != nil && *patch.Description != t.Description {
			before["description"], after["description"] = t.Description, *patch.Description
			t.Description = *patch.Description
		}
		if patch.Category != nil && *patch.Category != t.Category {
			before["category"], after["category"] = t.Category, *patch.Category
			t.Category = *patch.Category
		}
		if patch.Module != nil && *patch.Module != t.Module {
			before["module"], after["module"] = t.Module, *patch.Module
			t.Module = *patch.Module
		}
		if patch.Visual != nil {
			before["visual_config"], after["visual_config"] = t.VisualConfig, *patch.Visual
			t.VisualConfig = *patch.Visual
		}
		if patch.Advanced != nil {
			before["advanced_config"], after["advanced_config"] = t.AdvancedConfig, *patch.Advanced
			t.AdvancedConfig = *patch.Advanced
		}
		if patch.Permissions != nil {
			before["permissions"], after["permissions"] = t.Permissions, patch.Permissions
			t.Permissions = patch.Permissions
		}

		e.appendChange(t, id.ActorID, "update", map[string]any{"before": before, "after": after})
		return nil
	})
}

// Clone deep-copies the template under a new name with fresh identifiers.
// Audit, version, change history and usage statistics start over.
func (e *Engine) Clone(ctx context.Context, id core.Identity, templateID, newName string) (*core.Template, error) {
	ctx, span := e.tracer.Start(ctx, "template.Clone")
	defer span.End()

	if newName == "" {
		return nil, validationf("new template name is required")
	}

	src, err := e.Get(ctx, id, templateID)
	if err != nil {
		return nil, err
	}

	code, err := e.generateCode(ctx, id.TenantID, newName)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	clone := &core.Template{
		ID:             uuid.NewString(),
		TenantID:       id.TenantID,
		Code:           code,
		Name:           newName,
		Description:    src.Description,
		Active:         true,
		States:         cloneStates(src.States),
		VisualConfig:   src.VisualConfig,
		AdvancedConfig: src.AdvancedConfig,
		Permissions:    clonePermissions(src.Permissions),
		Audit: core.Audit{
			CreatedBy: id.ActorID,
			CreatedAt: now,
			UpdatedBy: id.ActorID,
			UpdatedAt: now,
			Version:   1,
			ChangeHistory: []core.ChangeEntry{
				{At: now, By: id.ActorID, Action: "clone", Details: map[string]any{"source": src.ID}},
			},
		},
	}

	if err := e.store.CreateTemplate(ctx, clone); err != nil {
		return nil, fmt.Errorf("creating template clone: %w", err)
	}

	e.logger.InfoContext(ctx, "cloned template",
		log.TemplateIDKey, src.ID,
		log.TemplateCodeKey, clone.Code,
	)

	return clone, nil
}

// ToggleActive flips the active flag.
func (e *Engine) ToggleActive(ctx context.Context, id core.Identity, templateID string) (*core.Template, error) {
	return e.mutate(ctx, id, templateID, func(t *core.Template) error {
		t.Active = !t.Active
		e.appendChange(t, id.ActorID, "toggle_active", map[string]any{"active": t.Active})
		return nil
	})
}

// Delete soft-deletes the template. It fails with InUseError while any
// non-archived record references it; the guard runs before anything is
// written.
func (e *Engine) Delete(ctx context.Context, id core.Identity, templateID string) error {
	ctx, span := e.tracer.Start(ctx, "template.Delete")
	defer span.End()

	t, err := e.Get(ctx, id, templateID)
	if err != nil {
		return err
	}

	count, err := e.store.CountRecords(ctx, id.TenantID, templateID, "")
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}
	if count > 0 {
		return &InUseError{TemplateID: t.ID, Code: t.Code, Records: count}
	}

	_, err = e.mutate(ctx, id, templateID, func(t *core.Template) error {
		now := e.clock.Now()
		t.Deleted = true
		t.DeletedBy = id.ActorID
		t.DeletedAt = &now
		e.appendChange(t, id.ActorID, "delete", nil)
		return nil
	})
	if err != nil {
		return err
	}

	e.metrics.Counter(metrickeys.TemplateDeleted, metrics.Tags{}, 1)
	return nil
}

// AddState appends a state at the end of the order.
func (e *Engine) AddState(ctx context.Context, id core.Identity, templateID string, state *core.State) (*core.Template, error) {
	if state == nil || state.Name == "" {
		return nil, validationf("state name is required")
	}

	return e.mutate(ctx, id, templateID, func(t *core.Template) error {
		if state.ID == "" {
			state.ID = uuid.NewString()
		} else if t.State(state.ID) != nil {
			return validationf("state id %q already exists", state.ID)
		}

		if state.Initial {
			for _, s := range t.States {
				s.Initial = false
			}
		}

		normalizeFields(state)
		state.Order = len(t.States) + 1
		t.States = append(t.States, state)

		e.appendChange(t, id.ActorID, "add_state", map[string]any{"state_id": state.ID, "name": state.Name})
		return nil
	})
}

// StatePatch replaces state-level members. Nil members are left unchanged;
// Fields, Transitions and AutomaticActions replace wholesale when non-nil.
type StatePatch struct {
	Name    *string `json:"name,omitempty"`
	Color   *string `json:"color,omitempty"`
	Initial *bool   `json:"is_initial,omitempty"`
	Final   *bool   `json:"is_final,omitempty"`

	Fields           []*core.Field      `json:"fields,omitempty"`
	Transitions      []*core.Transition `json:"transitions,omitempty"`
	AutomaticActions []*core.ActionRule `json:"automatic_actions,omitempty"`
}

func (e *Engine) UpdateState(ctx context.Context, id core.Identity, templateID, stateID string, patch StatePatch) (*core.Template, error) {
	return e.mutate(ctx, id, templateID, func(t *core.Template) error {
		state := t.State(stateID)
		if state == nil {
			return &StateNotFoundError{StateID: stateID}
		}

		if patch.Name != nil {
			if *patch.Name == "" {
				return validationf("state name cannot be empty")
			}
			state.Name = *patch.Name
		}
		if patch.Color != nil {
			state.Color = *patch.Color
		}
		if patch.Initial != nil {
			if *patch.Initial {
				// At most one initial state.
				for _, s := range t.States {
					s.Initial = false
				}
			}
			state.Initial = *patch.Initial
		}
		if patch.Final != nil {
			state.Final = *patch.Final
		}
		if patch.Fields != nil {
			state.Fields = patch.Fields
			normalizeFields(state)
		}
		if patch.Transitions != nil {
			state.Transitions = patch.Transitions
		}
		if patch.AutomaticActions != nil {
			for _, rule := range patch.AutomaticActions {
				if rule.ID == "" {
					rule.ID = uuid.NewString()
				}
			}
			state.AutomaticActions = patch.AutomaticActions
		}

		e.appendChange(t, id.ActorID, "update_state", map[string]any{"state_id": stateID})
		return nil
	})
}

// DeleteState removes a state and renumbers the remaining orders to stay
// dense. It fails with StateInUseError while any non-archived record
// currently occupies the state; the guard runs before anything is written.
func (e *Engine) DeleteState(ctx context.Context, id core.Identity, templateID, stateID string) (*core.Template, error) {
	t, err := e.Get(ctx, id, templateID)
	if err != nil {
		return nil, err
	}

	state := t.State(stateID)
	if state == nil {
		return nil, &StateNotFoundError{StateID: stateID}
	}

	count, err := e.store.CountRecords(ctx, id.TenantID, templateID, stateID)
	if err != nil {
		return nil, fmt.Errorf("counting records in state: %w", err)
	}
	if count > 0 {
		return nil, &StateInUseError{StateID: stateID, StateName: state.Name, Records: count}
	}

	return e.mutate(ctx, id, templateID, func(t *core.Template) error {
		states := make([]*core.State, 0, len(t.States))
		for _, s := range t.States {
			if s.ID == stateID {
				continue
			}
			s.Order = len(states) + 1
			states = append(states, s)
		}
		if len(states) == len(t.States) {
			return &StateNotFoundError{StateID: stateID}
		}
		t.States = states

		// Prune transitions that targeted the deleted state so no state is
		// left with a dangling edge.
		for _, s := range t.States {
			kept := s.Transitions[:0]
			for _, tr := range s.Transitions {
				if tr.TargetStateID != stateID {
					kept = append(kept, tr)
				}
			}
			s.Transitions = kept
		}

		e.appendChange(t, id.ActorID, "delete_state", map[string]any{"state_id": stateID})
		return nil
	})
}

// ReorderStates applies the given order. Unknown IDs are ignored, states not
// listed keep their relative order after the listed ones, and Order is
// recomputed 1..N.
func (e *Engine) ReorderStates(ctx context.Context, id core.Identity, templateID string, orderedIDs []string) (*core.Template, error) {
	return e.mutate(ctx, id, templateID, func(t *core.Template) error {
		byID := make(map[string]*core.State, len(t.States))
		for _, s := range t.States {
			byID[s.ID] = s
		}

		reordered := make([]*core.State, 0, len(t.States))
		taken := make(map[string]bool, len(t.States))

		for _, stateID := range orderedIDs {
			s, ok := byID[stateID]
			if !ok || taken[stateID] {
				continue
			}
			taken[stateID] = true
			reordered = append(reordered, s)
		}
		for _, s := range t.States {
			if !taken[s.ID] {
				reordered = append(reordered, s)
			}
		}

		for i, s := range reordered {
			s.Order = i + 1
		}
		t.States = reordered

		e.appendChange(t, id.ActorID, "reorder_states", map[string]any{"order": orderedIDs})
		return nil
	})
}

// ValidationResult is the report returned by Validate.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks the template's state graph. Errors make the template
// unusable for new records; warnings flag shapes that work but usually
// indicate an unfinished definition.
func (e *Engine) Validate(ctx context.Context, id core.Identity, templateID string) (*ValidationResult, error) {
	t, err := e.Get(ctx, id, templateID)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Errors: []string{}, Warnings: []string{}}

	if len(t.States) == 0 {
		result.Errors = append(result.Errors, "template has no states")
	}

	hasInitial := false
	hasFinal := false
	for _, s := range t.States {
		if s.Initial {
			hasInitial = true
		}
		if s.Final {
			hasFinal = true
		}

		for _, tr := range s.Transitions {
			if t.State(tr.TargetStateID) == nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("state %q has a transition to non-existent state %q", s.Name, tr.TargetStateID))
			}
		}

		if !s.Final && len(s.Transitions) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("non-final state %q has no outgoing transitions", s.Name))
		}
		if len(s.Fields) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("state %q has no fields", s.Name))
		}
	}

	if len(t.States) > 0 && !hasInitial {
		result.Warnings = append(result.Warnings, "no state is marked initial; the first state is used")
	}
	if len(t.States) > 0 && !hasFinal {
		result.Warnings = append(result.Warnings, "no state is marked final")
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

// StateSchema is the field schema of one state, as served by Preview.
type StateSchema struct {
	StateID   string        `json:"state_id"`
	StateName string        `json:"state_name"`
	Fields    []*core.Field `json:"fields"`
}

// Preview returns the field schema for one state, or for all states when
// stateID is empty.
func (e *Engine) Preview(ctx context.Context, id core.Identity, templateID, stateID string) ([]*StateSchema, error) {
	t, err := e.Get(ctx, id, templateID)
	if err != nil {
		return nil, err
	}

	if stateID != "" {
		s := t.State(stateID)
		if s == nil {
			return nil, &StateNotFoundError{StateID: stateID}
		}
		return []*StateSchema{{StateID: s.ID, StateName: s.Name, Fields: s.Fields}}, nil
	}

	schemas := make([]*StateSchema, 0, len(t.States))
	for _, s := range t.States {
		schemas = append(schemas, &StateSchema{StateID: s.ID, StateName: s.Name, Fields: s.Fields})
	}
	return schemas, nil
}

// mutate runs a load-mutate-save cycle, retrying on version conflicts.
func (e *Engine) mutate(ctx context.Context, id core.Identity, templateID string, fn func(*core.Template) error) (*core.Template, error) {
	var result *core.Template

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), conflictRetries), ctx)

	err := backoff.Retry(func() error {
		t, err := e.Get(ctx, id, templateID)
		if err != nil {
			return backoff.Permanent(err)
		}

		if err := fn(t); err != nil {
			return backoff.Permanent(err)
		}

		t.Audit.Version++
		t.Audit.UpdatedBy = id.ActorID
		t.Audit.UpdatedAt = e.clock.Now()

		if err := e.store.UpdateTemplate(ctx, t); err != nil {
			if errors.Is(err, backend.ErrVersionConflict) {
				return err
			}
			return backoff.Permanent(err)
		}

		result = t
		return nil
	}, bo)
	if err != nil {
		return nil, err
	}

	e.metrics.Counter(metrickeys.TemplateUpdated, metrics.Tags{}, 1)
	return result, nil
}

func (e *Engine) appendChange(t *core.Template, actor, action string, details map[string]any) {
	t.Audit.ChangeHistory = append(t.Audit.ChangeHistory, core.ChangeEntry{
		At:      e.clock.Now(),
		By:      actor,
		Action:  action,
		Details: details,
	})
}

// generateCode builds a tenant-unique code from the name: an uppercase
// alphanumeric stem prefixed PLANT-, with a numeric suffix on collision.
func (e *Engine) generateCode(ctx context.Context, tenantID, name string) (string, error) {
	stem := slug.Make(name, codeStemLen)
	if stem == "" {
		stem = "TEMPLATE"
	}

	base := codePrefix + stem

	candidate := base
	for i := 2; i <= maxCodeTries; i++ {
		exists, err := e.store.TemplateCodeExists(ctx, tenantID, candidate)
		if err != nil {
			return "", fmt.Errorf("checking code uniqueness: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}

	return "", fmt.Errorf("could not find a free code for %q", base)
}

func normalizeStates(states []*core.State) ([]*core.State, error) {
	seen := make(map[string]bool, len(states))
	initials := 0

	for i, s := range states {
		if s == nil {
			return nil, validationf("state %d is empty", i+1)
		}
		if s.Name == "" {
			return nil, validationf("state %d has no name", i+1)
		}

		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if seen[s.ID] {
			return nil, validationf("duplicate state id %q", s.ID)
		}
		seen[s.ID] = true

		if s.Initial {
			initials++
		}

		s.Order = i + 1
		normalizeFields(s)

		for _, rule := range s.AutomaticActions {
			if rule.ID == "" {
				rule.ID = uuid.NewString()
			}
		}
	}

	if initials > 1 {
		return nil, validationf("at most one state may be marked initial, found %d", initials)
	}

	return states, nil
}

// normalizeFields assigns missing field IDs and codes. Codes are slugged from
// the label and kept unique within the state with a numeric suffix.
func normalizeFields(s *core.State) {
	taken := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Code != "" {
			taken[f.Code] = true
		}
	}

	for _, f := range s.Fields {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.Type == "" {
			f.Type = core.FieldTypeText
		}

		if f.Code == "" {
			stem := slug.Make(f.Label, 20)
			if stem == "" {
				stem = "FIELD"
			}

			code := stem
			for i := 2; taken[code]; i++ {
				code = fmt.Sprintf("%s%d", stem, i)
			}
			taken[code] = true
			f.Code = code
		}
	}
}

func cloneStates(states []*core.State) []*core.State {
	idMap := make(map[string]string, len(states))
	fieldIDs := map[string]string{}
	for _, s := range states {
		idMap[s.ID] = uuid.NewString()
		for _, f := range s.Fields {
			fieldIDs[f.ID] = uuid.NewString()
		}
	}

	clones := make([]*core.State, 0, len(states))
	for _, s := range states {
		clone := &core.State{
			ID:      idMap[s.ID],
			Name:    s.Name,
			Color:   s.Color,
			Order:   s.Order,
			Initial: s.Initial,
			Final:   s.Final,
		}

		for _, f := range s.Fields {
			fc := *f
			fc.ID = fieldIDs[f.ID]
			clone.Fields = append(clone.Fields, &fc)
		}

		for _, tr := range s.Transitions {
			tc := &core.Transition{
				TargetStateID:   idMap[tr.TargetStateID],
				RequiresComment: tr.RequiresComment,
			}
			for _, cond := range tr.Conditions {
				cc := cond
				if mapped, ok := fieldIDs[cond.FieldID]; ok {
					cc.FieldID = mapped
				}
				tc.Conditions = append(tc.Conditions, cc)
			}
			clone.Transitions = append(clone.Transitions, tc)
		}

		for _, rule := range s.AutomaticActions {
			rc := &core.ActionRule{
				ID:      uuid.NewString(),
				Trigger: rule.Trigger,
				Type:    rule.Type,
				Active:  rule.Active,
				Config:  cloneConfig(rule.Config),
			}
			clone.AutomaticActions = append(clone.AutomaticActions, rc)
		}

		clones = append(clones, clone)
	}

	return clones
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

func clonePermissions(perms map[core.Capability][]string) map[core.Capability][]string {
	if perms == nil {
		return nil
	}
	out := make(map[core.Capability][]string, len(perms))
	for capability, roles := range perms {
		out[capability] = append([]string(nil), roles...)
	}
	return out
}
