package core

import "time"

// Template is a tenant-owned workflow definition: an ordered set of states
// connected by guarded transitions, each state carrying its own field schema
// and automatic-action rules. Templates are soft-deleted only, so records
// created from them stay resolvable.
type Template struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenant_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Category and Module are free-form grouping labels used by list filters.
	Category string `json:"category,omitempty"`
	Module   string `json:"module,omitempty"`

	Active  bool `json:"active"`
	Deleted bool `json:"deleted"`

	DeletedBy string     `json:"deleted_by,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// States is ordered by State.Order, which stays a dense 1..N sequence
	// across adds, deletes and reorders.
	States []*State `json:"states"`

	VisualConfig   VisualConfig   `json:"visual_config,omitempty"`
	AdvancedConfig AdvancedConfig `json:"advanced_config,omitempty"`

	// Permissions maps a capability to the roles allowed to exercise it.
	Permissions map[Capability][]string `json:"permissions,omitempty"`

	Stats TemplateStats `json:"stats"`
	Audit Audit         `json:"audit"`
}

// State returns the state with the given ID, or nil.
func (t *Template) State(stateID string) *State {
	for _, s := range t.States {
		if s.ID == stateID {
			return s
		}
	}
	return nil
}

// InitialState resolves the state new records start in: the state marked
// initial, or the first state when none is marked. Returns nil for a template
// with zero states.
func (t *Template) InitialState() *State {
	for _, s := range t.States {
		if s.Initial {
			return s
		}
	}
	if len(t.States) > 0 {
		return t.States[0]
	}
	return nil
}

type State struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`

	// Order is 1-based and dense within the owning template.
	Order int `json:"order"`

	Initial bool `json:"is_initial"`
	Final   bool `json:"is_final"`

	Fields           []*Field      `json:"fields,omitempty"`
	Transitions      []*Transition `json:"transitions,omitempty"`
	AutomaticActions []*ActionRule `json:"automatic_actions,omitempty"`
}

// Transition returns the outgoing transition targeting the given state, or nil.
func (s *State) Transition(targetStateID string) *Transition {
	for _, t := range s.Transitions {
		if t.TargetStateID == targetStateID {
			return t
		}
	}
	return nil
}

type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeSelect   FieldType = "select"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeUser     FieldType = "user"
	FieldTypeFile     FieldType = "file"
)

type Field struct {
	ID    string    `json:"id"`
	Code  string    `json:"code"`
	Label string    `json:"label"`
	Type  FieldType `json:"type"`

	Required bool     `json:"required,omitempty"`
	Visible  bool     `json:"visible"`
	Options  []string `json:"options,omitempty"`

	// CardVisible marks fields shown on kanban cards, ordered by CardOrder.
	CardVisible bool `json:"card_visible,omitempty"`
	CardOrder   int  `json:"card_order,omitempty"`
}

type Transition struct {
	TargetStateID   string      `json:"target_state_id"`
	RequiresComment bool        `json:"requires_comment,omitempty"`
	Conditions      []Condition `json:"conditions,omitempty"`
}

type ConditionOperator string

const (
	OpEquals      ConditionOperator = "eq"
	OpNotEquals   ConditionOperator = "neq"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "gt"
	OpGreaterEq   ConditionOperator = "gte"
	OpLessThan    ConditionOperator = "lt"
	OpLessEq      ConditionOperator = "lte"
	OpEmpty       ConditionOperator = "empty"
	OpNotEmpty    ConditionOperator = "not_empty"
	OpIn          ConditionOperator = "in"
)

// Condition is a guard predicate over a record's field values. All conditions
// of a transition must hold for the transition to be taken.
type Condition struct {
	FieldID  string            `json:"field_id"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value,omitempty"`
}

type ActionTrigger string

const (
	TriggerOnCreate ActionTrigger = "on_create"
	TriggerOnEnter  ActionTrigger = "on_enter"
)

type ActionType string

// The action kinds form a closed set; the dispatcher switches exhaustively
// over them. Adding a kind is a deliberate extension, not a plugin point.
const (
	ActionSendEmail    ActionType = "send_email"
	ActionAssignUser   ActionType = "assign_user"
	ActionComputeField ActionType = "compute_field"
	ActionCreateTask   ActionType = "create_task"
	ActionWebhook      ActionType = "webhook"
)

type ActionRule struct {
	ID      string         `json:"id"`
	Trigger ActionTrigger  `json:"trigger"`
	Type    ActionType     `json:"type"`
	Active  bool           `json:"active"`
	Config  map[string]any `json:"config,omitempty"`
}

type Capability string

const (
	CapView        Capability = "view"
	CapEdit        Capability = "edit"
	CapChangeState Capability = "change_state"
	CapDelete      Capability = "delete"
	CapAdmin       Capability = "admin"
)

type VisualConfig struct {
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	DefaultView string `json:"default_view,omitempty"`
}

type AdvancedConfig struct {
	// Numbering configures how codes for records of this template are
	// generated. Zero value falls back to the manager's defaults.
	Numbering CounterConfig `json:"numbering,omitempty"`

	AllowClone   bool `json:"allow_clone,omitempty"`
	AllowExport  bool `json:"allow_export,omitempty"`
	RequireOwner bool `json:"require_owner,omitempty"`
}

type TemplateStats struct {
	InstanceCount int64      `json:"instance_count"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// Audit tracks who touched an entity and when. Version increases by one on
// every mutation; ChangeHistory is append-only.
type Audit struct {
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	Version       int64         `json:"version"`
	ChangeHistory []ChangeEntry `json:"change_history,omitempty"`
}

type ChangeEntry struct {
	At      time.Time      `json:"at"`
	By      string         `json:"by"`
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}
