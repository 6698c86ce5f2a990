// Package numbering issues unique human-readable sequential codes per
// (tenant, entity kind, optional reset period). Every increment goes through
// backend.CounterStore.IncrementCounter, the one atomic primitive, so
// concurrent creations never share a number.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/metrics"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/internal/metrickeys"
	"github.com/recordflow/recordflow/log"
)

const (
	DefaultWidth  = 4
	DefaultFormat = "{prefix}-{number}"
)

type Generator struct {
	counters backend.CounterStore
	clock    clock.Clock
	logger   *slog.Logger
	metrics  metrics.Client
}

func NewGenerator(counters backend.CounterStore, opts ...backend.BackendOption) *Generator {
	options := backend.ApplyOptions(opts...)

	return &Generator{
		counters: counters,
		clock:    options.Clock,
		logger:   options.Logger,
		metrics:  options.Metrics,
	}
}

// GenerateCode issues the next code for the given config and persists the
// config so reset operations and stats can find it. Counter failures abort
// code generation; a caller must never persist an entity without a code.
func (g *Generator) GenerateCode(ctx context.Context, tenantID string, cfg core.CounterConfig) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant id is required")
	}
	if cfg.Kind == "" {
		return "", errors.New("counter kind is required")
	}

	cfg = withDefaults(cfg)

	if err := g.counters.SaveCounterConfig(ctx, tenantID, cfg); err != nil {
		return "", fmt.Errorf("saving counter config: %w", err)
	}

	now := g.clock.Now()

	n, err := g.counters.IncrementCounter(ctx, g.key(tenantID, cfg))
	if err != nil {
		return "", fmt.Errorf("incrementing counter %q: %w", cfg.Kind, err)
	}

	code := render(cfg, now.Year(), int(now.Month()), n)

	g.logger.DebugContext(ctx, "generated code",
		log.TenantIDKey, tenantID,
		log.CounterKindKey, cfg.Kind,
		log.CounterValueKey, n,
	)
	g.metrics.Counter(metrickeys.CodeGenerated, metrics.Tags{metrickeys.CounterKind: cfg.Kind}, 1)

	return code, nil
}

// GenerateSubCode issues the next child code under parentCode. The child
// sequence is scoped to the parent, so two parents can both have a first
// child numbered 1.
func (g *Generator) GenerateSubCode(ctx context.Context, tenantID, parentCode, subKind, prefix string) (string, error) {
	if parentCode == "" {
		return "", errors.New("parent code is required")
	}
	if subKind == "" {
		return "", errors.New("sub kind is required")
	}

	key := core.CounterKey{
		TenantID: tenantID,
		Kind:     fmt.Sprintf("sub:%s:%s", subKind, parentCode),
	}

	n, err := g.counters.IncrementCounter(ctx, key)
	if err != nil {
		return "", fmt.Errorf("incrementing sub counter for %q: %w", parentCode, err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s-%s-%02d", parentCode, prefix, n), nil
	}
	return fmt.Sprintf("%s-%02d", parentCode, n), nil
}

// Example renders the code the next GenerateCode call would produce, without
// touching the counter.
func (g *Generator) Example(ctx context.Context, tenantID, kind string) (string, error) {
	cfg, err := g.counters.GetCounterConfig(ctx, tenantID, kind)
	if err != nil {
		if errors.Is(err, backend.ErrCounterNotFound) {
			cfg = core.CounterConfig{Kind: kind, Prefix: strings.ToUpper(kind)}
		} else {
			return "", fmt.Errorf("loading counter config: %w", err)
		}
	}

	cfg = withDefaults(cfg)

	current, err := g.counters.GetCounter(ctx, g.key(tenantID, cfg))
	if err != nil && !errors.Is(err, backend.ErrCounterNotFound) {
		return "", fmt.Errorf("reading counter: %w", err)
	}

	now := g.clock.Now()
	return render(cfg, now.Year(), int(now.Month()), current+1), nil
}

// Stats reports every counter stream and config of a tenant.
type Stats struct {
	Counters []core.CounterInfo   `json:"counters"`
	Configs  []core.CounterConfig `json:"configs"`
}

func (g *Generator) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	counters, err := g.counters.ListCounters(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing counters: %w", err)
	}

	configs, err := g.counters.ListCounterConfigs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing counter configs: %w", err)
	}

	return &Stats{Counters: counters, Configs: configs}, nil
}

// ResetResult reports the outcome of an administrative counter reset.
type ResetResult struct {
	CountersReset   int64 `json:"counters_reset"`
	ConfigsAffected int   `json:"configs_affected"`
}

// ResetYearlyCounters zeroes every counter stream whose config is flagged
// reset_yearly.
func (g *Generator) ResetYearlyCounters(ctx context.Context, tenantID string) (*ResetResult, error) {
	return g.reset(ctx, tenantID, func(cfg core.CounterConfig) bool { return cfg.ResetYearly })
}

// ResetMonthlyCounters zeroes every counter stream whose config is flagged
// reset_monthly.
func (g *Generator) ResetMonthlyCounters(ctx context.Context, tenantID string) (*ResetResult, error) {
	return g.reset(ctx, tenantID, func(cfg core.CounterConfig) bool { return cfg.ResetMonthly })
}

func (g *Generator) reset(ctx context.Context, tenantID string, match func(core.CounterConfig) bool) (*ResetResult, error) {
	configs, err := g.counters.ListCounterConfigs(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing counter configs: %w", err)
	}

	kinds := make([]string, 0, len(configs))
	for _, cfg := range configs {
		if match(cfg) {
			kinds = append(kinds, cfg.Kind)
		}
	}

	if len(kinds) == 0 {
		return &ResetResult{}, nil
	}

	reset, err := g.counters.ResetCounters(ctx, tenantID, kinds)
	if err != nil {
		return nil, fmt.Errorf("resetting counters: %w", err)
	}

	g.logger.InfoContext(ctx, "reset counters",
		log.TenantIDKey, tenantID,
		log.CounterValueKey, reset,
	)

	return &ResetResult{CountersReset: reset, ConfigsAffected: len(kinds)}, nil
}

func (g *Generator) key(tenantID string, cfg core.CounterConfig) core.CounterKey {
	key := core.CounterKey{TenantID: tenantID, Kind: cfg.Kind}

	now := g.clock.Now()
	if cfg.ResetYearly || cfg.ResetMonthly {
		key.Year = now.Year()
	}
	if cfg.ResetMonthly {
		key.Month = int(now.Month())
	}

	return key
}

func withDefaults(cfg core.CounterConfig) core.CounterConfig {
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Prefix == "" {
		cfg.Prefix = strings.ToUpper(cfg.Kind)
	}
	return cfg
}

func render(cfg core.CounterConfig, year, month int, n int64) string {
	code := cfg.Format
	code = strings.ReplaceAll(code, "{prefix}", cfg.Prefix)
	code = strings.ReplaceAll(code, "{year}", fmt.Sprintf("%04d", year))
	code = strings.ReplaceAll(code, "{month}", fmt.Sprintf("%02d", month))
	code = strings.ReplaceAll(code, "{number}", fmt.Sprintf("%0*d", cfg.Width, n))
	return code
}
