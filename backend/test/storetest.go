package test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

const tenant = "plant-test"

// StoreTest runs the conformance suite every Store implementation has to
// pass. setup returns a fresh, empty store; teardown disposes it.
func StoreTest(t *testing.T, setup func() backend.Store, teardown func(s backend.Store)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, s backend.Store)
	}{
		{
			name: "GetTemplate_NotFound",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				_, err := s.GetTemplate(ctx, tenant, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrTemplateNotFound)
			},
		},
		{
			name: "CreateTemplate_RoundTrips",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				require.NoError(t, s.CreateTemplate(ctx, tmpl))

				got, err := s.GetTemplate(ctx, tenant, tmpl.ID)
				require.NoError(t, err)
				require.Equal(t, tmpl.Code, got.Code)
				require.Equal(t, tmpl.Name, got.Name)
				require.Len(t, got.States, len(tmpl.States))
				require.Equal(t, tmpl.States[0].Fields[0].Label, got.States[0].Fields[0].Label)
			},
		},
		{
			name: "CreateTemplate_DuplicateCode",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				require.NoError(t, s.CreateTemplate(ctx, tmpl))

				dup := sampleTemplate()
				dup.Code = tmpl.Code
				require.ErrorIs(t, s.CreateTemplate(ctx, dup), backend.ErrCodeExists)
			},
		},
		{
			name: "TemplateCodeExists",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				require.NoError(t, s.CreateTemplate(ctx, tmpl))

				exists, err := s.TemplateCodeExists(ctx, tenant, tmpl.Code)
				require.NoError(t, err)
				require.True(t, exists)

				exists, err = s.TemplateCodeExists(ctx, tenant, "PLANT-NOPE")
				require.NoError(t, err)
				require.False(t, exists)

				// Other tenants do not see the code.
				exists, err = s.TemplateCodeExists(ctx, "other-tenant", tmpl.Code)
				require.NoError(t, err)
				require.False(t, exists)
			},
		},
		{
			name: "UpdateTemplate_VersionConflict",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				require.NoError(t, s.CreateTemplate(ctx, tmpl))

				tmpl.Name = "renamed"
				tmpl.Audit.Version = 2
				require.NoError(t, s.UpdateTemplate(ctx, tmpl))

				// A stale writer still at version 1 loses.
				stale := sampleTemplate()
				stale.ID = tmpl.ID
				stale.Code = tmpl.Code
				stale.Name = "stale write"
				stale.Audit.Version = 2
				require.ErrorIs(t, s.UpdateTemplate(ctx, stale), backend.ErrVersionConflict)

				got, err := s.GetTemplate(ctx, tenant, tmpl.ID)
				require.NoError(t, err)
				require.Equal(t, "renamed", got.Name)
			},
		},
		{
			name: "UpdateTemplate_NotFound",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				tmpl.Audit.Version = 2
				require.ErrorIs(t, s.UpdateTemplate(ctx, tmpl), backend.ErrTemplateNotFound)
			},
		},
		{
			name: "ListTemplates_Filters",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				active := sampleTemplate()
				active.Name = "Auditoría interna"
				require.NoError(t, s.CreateTemplate(ctx, active))

				inactive := sampleTemplate()
				inactive.Name = "Mantenimiento"
				inactive.Category = "maintenance"
				inactive.Module = "plant"
				inactive.Active = false
				require.NoError(t, s.CreateTemplate(ctx, inactive))

				deleted := sampleTemplate()
				deleted.Deleted = true
				require.NoError(t, s.CreateTemplate(ctx, deleted))

				all, total, err := s.ListTemplates(ctx, tenant, backend.TemplateFilter{})
				require.NoError(t, err)
				require.Equal(t, int64(2), total, "soft-deleted templates are hidden by default")
				require.Len(t, all, 2)

				isActive := true
				actives, _, err := s.ListTemplates(ctx, tenant, backend.TemplateFilter{Active: &isActive})
				require.NoError(t, err)
				require.Len(t, actives, 1)
				require.Equal(t, "Auditoría interna", actives[0].Name)

				withDeleted, _, err := s.ListTemplates(ctx, tenant, backend.TemplateFilter{IncludeDeleted: true})
				require.NoError(t, err)
				require.Len(t, withDeleted, 3)

				found, _, err := s.ListTemplates(ctx, tenant, backend.TemplateFilter{Search: "manteni"})
				require.NoError(t, err)
				require.Len(t, found, 1)

				byCategory, _, err := s.ListTemplates(ctx, tenant, backend.TemplateFilter{Category: "maintenance"})
				require.NoError(t, err)
				require.Len(t, byCategory, 1)
				require.Equal(t, "Mantenimiento", byCategory[0].Name)

				byModule, _, err := s.ListTemplates(ctx, tenant, backend.TemplateFilter{Module: "workshop"})
				require.NoError(t, err)
				require.Empty(t, byModule)
			},
		},
		{
			name: "IncrementTemplateUsage",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				require.NoError(t, s.CreateTemplate(ctx, tmpl))

				require.NoError(t, s.IncrementTemplateUsage(ctx, tenant, tmpl.ID))
				require.NoError(t, s.IncrementTemplateUsage(ctx, tenant, tmpl.ID))

				got, err := s.GetTemplate(ctx, tenant, tmpl.ID)
				require.NoError(t, err)
				require.Equal(t, int64(2), got.Stats.InstanceCount)
			},
		},
		{
			name: "GetRecord_NotFound",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				_, err := s.GetRecord(ctx, tenant, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrRecordNotFound)
			},
		},
		{
			name: "CreateRecord_RoundTrips",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				rec := sampleRecord("AUD-2025-0001")
				rec.FieldValues = map[string]any{"f-title": "Pressure drift", "f-score": float64(80)}
				require.NoError(t, s.CreateRecord(ctx, rec))

				got, err := s.GetRecord(ctx, tenant, rec.ID)
				require.NoError(t, err)
				require.Equal(t, rec.Code, got.Code)
				require.Equal(t, "Pressure drift", got.FieldValues["f-title"])
				require.Equal(t, rec.CurrentState.StateID, got.CurrentState.StateID)
			},
		},
		{
			name: "UpdateRecord_VersionConflict",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				rec := sampleRecord("AUD-2025-0001")
				require.NoError(t, s.CreateRecord(ctx, rec))

				rec.PrimaryOwner = "bob"
				rec.Version = 2
				require.NoError(t, s.UpdateRecord(ctx, rec))

				stale := sampleRecord("AUD-2025-0001")
				stale.ID = rec.ID
				stale.Version = 2
				require.ErrorIs(t, s.UpdateRecord(ctx, stale), backend.ErrVersionConflict)
			},
		},
		{
			name: "ListRecords_Filters",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				templateID := uuid.NewString()

				inDraft := sampleRecord("AUD-2025-0001")
				inDraft.TemplateID = templateID
				inDraft.PrimaryOwner = "alice"
				require.NoError(t, s.CreateRecord(ctx, inDraft))

				inReview := sampleRecord("AUD-2025-0002")
				inReview.TemplateID = templateID
				inReview.CurrentState.StateID = "s-review"
				inReview.Priority = core.PriorityHigh
				require.NoError(t, s.CreateRecord(ctx, inReview))

				archived := sampleRecord("AUD-2025-0003")
				archived.TemplateID = templateID
				archived.Deleted = true
				require.NoError(t, s.CreateRecord(ctx, archived))

				all, total, err := s.ListRecords(ctx, tenant, backend.RecordFilter{TemplateID: templateID})
				require.NoError(t, err)
				require.Equal(t, int64(2), total, "archived records are hidden by default")
				require.Len(t, all, 2)

				inState, _, err := s.ListRecords(ctx, tenant, backend.RecordFilter{TemplateID: templateID, StateID: "s-review"})
				require.NoError(t, err)
				require.Len(t, inState, 1)
				require.Equal(t, "AUD-2025-0002", inState[0].Code)

				byOwner, _, err := s.ListRecords(ctx, tenant, backend.RecordFilter{Owner: "alice"})
				require.NoError(t, err)
				require.Len(t, byOwner, 1)

				byPriority, _, err := s.ListRecords(ctx, tenant, backend.RecordFilter{Priority: core.PriorityHigh})
				require.NoError(t, err)
				require.Len(t, byPriority, 1)

				withArchived, _, err := s.ListRecords(ctx, tenant, backend.RecordFilter{TemplateID: templateID, IncludeArchived: true})
				require.NoError(t, err)
				require.Len(t, withArchived, 3)

				bySearch, _, err := s.ListRecords(ctx, tenant, backend.RecordFilter{Search: "0002"})
				require.NoError(t, err)
				require.Len(t, bySearch, 1)
			},
		},
		{
			name: "ListRecords_Pagination",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				templateID := uuid.NewString()
				base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

				for i := 0; i < 5; i++ {
					rec := sampleRecord(codeFor(i))
					rec.TemplateID = templateID
					rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
					require.NoError(t, s.CreateRecord(ctx, rec))
				}

				filter := backend.RecordFilter{TemplateID: templateID, SortBy: "created_at", SortDirection: backend.SortAsc}
				filter.Page = backend.Page{Number: 2, Limit: 2}

				page, total, err := s.ListRecords(ctx, tenant, filter)
				require.NoError(t, err)
				require.Equal(t, int64(5), total)
				require.Len(t, page, 2)
				require.Equal(t, codeFor(2), page[0].Code)
				require.Equal(t, codeFor(3), page[1].Code)
			},
		},
		{
			name: "CountRecords",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				templateID := uuid.NewString()

				for i := 0; i < 3; i++ {
					rec := sampleRecord(codeFor(i))
					rec.TemplateID = templateID
					if i == 2 {
						rec.CurrentState.StateID = "s-review"
					}
					require.NoError(t, s.CreateRecord(ctx, rec))
				}

				count, err := s.CountRecords(ctx, tenant, templateID, "")
				require.NoError(t, err)
				require.Equal(t, int64(3), count)

				count, err = s.CountRecords(ctx, tenant, templateID, "s-review")
				require.NoError(t, err)
				require.Equal(t, int64(1), count)
			},
		},
		{
			name: "IncrementCounter_StartsAtOne",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				key := core.CounterKey{TenantID: tenant, Kind: "audit", Year: 2025}

				v, err := s.IncrementCounter(ctx, key)
				require.NoError(t, err)
				require.Equal(t, int64(1), v)

				v, err = s.IncrementCounter(ctx, key)
				require.NoError(t, err)
				require.Equal(t, int64(2), v)

				// A different year is a separate stream.
				v, err = s.IncrementCounter(ctx, core.CounterKey{TenantID: tenant, Kind: "audit", Year: 2026})
				require.NoError(t, err)
				require.Equal(t, int64(1), v)
			},
		},
		{
			name: "IncrementCounter_Concurrent",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				key := core.CounterKey{TenantID: tenant, Kind: "load", Year: 2025}

				const n = 50
				results := make([]int64, n)

				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						v, err := s.IncrementCounter(ctx, key)
						require.NoError(t, err)
						results[i] = v
					}(i)
				}
				wg.Wait()

				// Every value was handed out exactly once.
				seen := map[int64]bool{}
				for _, v := range results {
					require.False(t, seen[v], "value %d issued twice", v)
					seen[v] = true
				}
				require.Len(t, seen, n)

				v, err := s.GetCounter(ctx, key)
				require.NoError(t, err)
				require.Equal(t, int64(n), v)
			},
		},
		{
			name: "GetCounter_NotFound",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				_, err := s.GetCounter(ctx, core.CounterKey{TenantID: tenant, Kind: "missing"})
				require.ErrorIs(t, err, backend.ErrCounterNotFound)
			},
		},
		{
			name: "ResetCounters",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				yearly := core.CounterKey{TenantID: tenant, Kind: "audit", Year: 2025}
				permanent := core.CounterKey{TenantID: tenant, Kind: "global"}

				_, err := s.IncrementCounter(ctx, yearly)
				require.NoError(t, err)
				_, err = s.IncrementCounter(ctx, permanent)
				require.NoError(t, err)

				n, err := s.ResetCounters(ctx, tenant, []string{"audit"})
				require.NoError(t, err)
				require.Equal(t, int64(1), n)

				_, err = s.GetCounter(ctx, yearly)
				require.ErrorIs(t, err, backend.ErrCounterNotFound)

				v, err := s.GetCounter(ctx, permanent)
				require.NoError(t, err)
				require.Equal(t, int64(1), v)
			},
		},
		{
			name: "CounterConfig_RoundTrips",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				cfg := core.CounterConfig{
					Kind: "audit", Prefix: "AUD", Format: "{prefix}-{year}-{number}",
					Width: 4, ResetYearly: true,
				}
				require.NoError(t, s.SaveCounterConfig(ctx, tenant, cfg))

				got, err := s.GetCounterConfig(ctx, tenant, "audit")
				require.NoError(t, err)
				require.Equal(t, cfg, got)

				// Saving again overwrites.
				cfg.Prefix = "AUDIT"
				require.NoError(t, s.SaveCounterConfig(ctx, tenant, cfg))

				got, err = s.GetCounterConfig(ctx, tenant, "audit")
				require.NoError(t, err)
				require.Equal(t, "AUDIT", got.Prefix)

				configs, err := s.ListCounterConfigs(ctx, tenant)
				require.NoError(t, err)
				require.Len(t, configs, 1)
			},
		},
		{
			name: "TenantIsolation",
			f: func(t *testing.T, ctx context.Context, s backend.Store) {
				tmpl := sampleTemplate()
				require.NoError(t, s.CreateTemplate(ctx, tmpl))

				rec := sampleRecord("AUD-2025-0001")
				require.NoError(t, s.CreateRecord(ctx, rec))

				_, err := s.GetTemplate(ctx, "other-tenant", tmpl.ID)
				require.ErrorIs(t, err, backend.ErrTemplateNotFound)

				_, err = s.GetRecord(ctx, "other-tenant", rec.ID)
				require.ErrorIs(t, err, backend.ErrRecordNotFound)

				records, total, err := s.ListRecords(ctx, "other-tenant", backend.RecordFilter{})
				require.NoError(t, err)
				require.Zero(t, total)
				require.Empty(t, records)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setup()
			ctx := context.Background()
			tt.f(t, ctx, s)
			if teardown != nil {
				teardown(s)
			}
		})
	}
}

func sampleTemplate() *core.Template {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	return &core.Template{
		ID:       uuid.NewString(),
		TenantID: tenant,
		Code:     "PLANT-" + uuid.NewString()[:8],
		Name:     "Auditoría",
		Active:   true,
		States: []*core.State{
			{
				ID: "s-draft", Name: "Borrador", Order: 1, Initial: true,
				Fields: []*core.Field{
					{ID: "f-title", Code: "TITULO", Label: "Título", Type: core.FieldTypeText, Required: true, Visible: true},
				},
				Transitions: []*core.Transition{{TargetStateID: "s-review"}},
			},
			{ID: "s-review", Name: "Revisión", Order: 2, Final: true},
		},
		Audit: core.Audit{CreatedBy: "alice", CreatedAt: now, UpdatedAt: now, Version: 1},
	}
}

func sampleRecord(code string) *core.Record {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	return &core.Record{
		ID:         uuid.NewString(),
		TenantID:   tenant,
		Code:       code,
		TemplateID: uuid.NewString(),
		CurrentState: core.StateSnapshot{
			StateID: "s-draft", Name: "Borrador", EnteredAt: now, ChangedBy: "alice",
		},
		Version:   1,
		CreatedBy: "alice",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func codeFor(i int) string {
	return fmt.Sprintf("AUD-2025-%04d", i+1)
}
