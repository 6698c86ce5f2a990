package log

const (
	NamespaceKey = "recordflow"

	TenantIDKey = NamespaceKey + ".tenant.id"
	ActorIDKey  = NamespaceKey + ".actor.id"

	TemplateIDKey   = NamespaceKey + ".template.id"
	TemplateCodeKey = NamespaceKey + ".template.code"
	StateIDKey      = NamespaceKey + ".state.id"
	StateNameKey    = NamespaceKey + ".state.name"

	RecordIDKey   = NamespaceKey + ".record.id"
	RecordCodeKey = NamespaceKey + ".record.code"

	FromStateKey = NamespaceKey + ".transition.from"
	ToStateKey   = NamespaceKey + ".transition.to"

	ActionTypeKey    = NamespaceKey + ".action.type"
	ActionTriggerKey = NamespaceKey + ".action.trigger"

	CounterKindKey  = NamespaceKey + ".counter.kind"
	CounterValueKey = NamespaceKey + ".counter.value"

	VersionKey  = NamespaceKey + ".version"
	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"
)
