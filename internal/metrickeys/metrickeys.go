package metrickeys

const (
	Prefix = "recordflow."

	// Templates
	TemplateCreated   = Prefix + "template.created"
	TemplateUpdated   = Prefix + "template.updated"
	TemplateDeleted   = Prefix + "template.deleted"
	TemplateCacheSize = Prefix + "template.cache.size"
	TemplateCacheHit  = Prefix + "template.cache.hit"

	// Records
	RecordCreated     = Prefix + "record.created"
	RecordCompleted   = Prefix + "record.completed"
	RecordStateChange = Prefix + "record.state_changed"
	RecordArchived    = Prefix + "record.archived"
	RecordTimeInState = Prefix + "record.time_in_state"

	// Numbering
	CodeGenerated = Prefix + "numbering.generated"

	// Automatic actions
	ActionExecuted = Prefix + "action.executed"
	ActionFailed   = Prefix + "action.failed"
	ActionDuration = Prefix + "action.duration"
)

// Tag names
const (
	Backend = "backend"

	TemplateCode = "template"
	StateName    = "state"
	ActionType   = "action"
	CounterKind  = "kind"
)
