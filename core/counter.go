package core

import "time"

// CounterKey identifies one sequential-numbering stream. Year and Month are
// zero unless the owning config resets per period, so a non-resetting stream
// keeps a single counter for its lifetime.
type CounterKey struct {
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	Year     int    `json:"year,omitempty"`
	Month    int    `json:"month,omitempty"`
}

// CounterConfig describes how codes for one entity kind are generated.
type CounterConfig struct {
	// Kind is the entity kind the counter belongs to, e.g. "registro" or
	// "plantilla".
	Kind string `json:"kind"`

	Prefix string `json:"prefix,omitempty"`

	// Format is the code template. Supported placeholders: {prefix}, {year},
	// {month}, {number}.
	Format string `json:"format,omitempty"`

	// Width is the zero-padded width of {number}. Defaults to 4.
	Width int `json:"width,omitempty"`

	ResetYearly  bool `json:"reset_yearly,omitempty"`
	ResetMonthly bool `json:"reset_monthly,omitempty"`
}

// CounterInfo is a point-in-time view of one counter stream, returned by
// stats queries.
type CounterInfo struct {
	Key       CounterKey `json:"key"`
	Value     int64      `json:"value"`
	UpdatedAt time.Time  `json:"updated_at"`
}
