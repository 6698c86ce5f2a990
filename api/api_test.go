package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/sqlite"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/numbering"
	"github.com/recordflow/recordflow/record"
	"github.com/recordflow/recordflow/template"
)

const (
	testTenant = "plant-a"
	testActor  = "alice"
)

func testServer(t *testing.T) (*httptest.Server, backend.Store) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	store := sqlite.NewInMemoryStore(backend.WithClock(mock))
	gen := numbering.NewGenerator(store, backend.WithClock(mock))
	engine := template.NewEngine(store, backend.WithClock(mock))
	manager := record.NewManager(store, gen, nil, record.WithBackendOptions(backend.WithClock(mock)))

	srv := httptest.NewServer(NewServeMux(engine, manager, gen))

	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, manager.Close())
		require.NoError(t, store.Close())
	})

	return srv, store
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set(TenantHeader, testTenant)
	req.Header.Set(ActorHeader, testActor)

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var e envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&e))

	return res.StatusCode, e
}

// data re-marshals the envelope's data into the given shape.
func data[T any](t *testing.T, e envelope) T {
	t.Helper()

	raw, err := json.Marshal(e.Data)
	require.NoError(t, err)

	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// reviewTemplate seeds a Draft -> Review -> Approved flow directly in the
// store, bypassing the engine so tests control ids and codes.
func reviewTemplate(t *testing.T, store backend.Store) *core.Template {
	t.Helper()

	tmpl := &core.Template{
		ID:       "tmpl-review",
		TenantID: testTenant,
		Code:     "PLANT-AUDIT",
		Name:     "Internal audit",
		Active:   true,
		States: []*core.State{
			{
				ID: "s-draft", Name: "Draft", Order: 1, Initial: true,
				Fields: []*core.Field{
					{ID: "f-title", Code: "TITLE", Label: "Title", Type: core.FieldTypeText, Required: true, Visible: true},
				},
				Transitions: []*core.Transition{{TargetStateID: "s-review"}},
			},
			{
				ID: "s-review", Name: "Review", Order: 2,
				Transitions: []*core.Transition{
					{TargetStateID: "s-approved", RequiresComment: true},
					{TargetStateID: "s-draft"},
				},
			},
			{ID: "s-approved", Name: "Approved", Order: 3, Final: true},
		},
		AdvancedConfig: core.AdvancedConfig{
			Numbering: core.CounterConfig{Kind: "audit", Prefix: "AUD", Format: "{prefix}-{year}-{number}", ResetYearly: true},
		},
		Audit: core.Audit{Version: 1, CreatedAt: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}

	require.NoError(t, store.CreateTemplate(context.Background(), tmpl))
	return tmpl
}

func Test_API_MissingTenant(t *testing.T) {
	srv, _ := testServer(t)

	res, err := srv.Client().Get(srv.URL + "/api/templates")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	var e envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&e))
	require.False(t, e.Success)
	require.Equal(t, "missing tenant context", e.Error)
}

func Test_API_TemplateLifecycle(t *testing.T) {
	srv, _ := testServer(t)

	status, e := call(t, srv, http.MethodPost, "/api/templates", template.Def{
		Name:     "Mantenimiento preventivo",
		Category: "maintenance",
		States: []*core.State{
			{ID: "s1", Name: "Abierto", Initial: true, Transitions: []*core.Transition{{TargetStateID: "s2"}}},
			{ID: "s2", Name: "Cerrado", Final: true},
		},
	})
	require.Equal(t, http.StatusCreated, status)
	require.True(t, e.Success)

	created := data[*core.Template](t, e)
	require.NotEmpty(t, created.Code)
	require.Equal(t, "maintenance", created.Category)

	status, e = call(t, srv, http.MethodGet, "/api/templates?category=maintenance", nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, e.Pagination)
	require.Equal(t, int64(1), e.Pagination.Total)
	require.Equal(t, 1, e.Pagination.Page)
	require.Equal(t, int64(1), e.Pagination.Pages)

	newName := "Mantenimiento correctivo"
	status, e = call(t, srv, http.MethodPatch, "/api/templates/"+created.ID, template.Patch{Name: &newName})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, newName, data[*core.Template](t, e).Name)

	status, e = call(t, srv, http.MethodGet, "/api/templates/"+created.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, status)
	require.True(t, data[*template.ValidationResult](t, e).Valid)

	status, e = call(t, srv, http.MethodPost, "/api/templates/"+created.ID+"/toggle-active", nil)
	require.Equal(t, http.StatusOK, status)
	require.False(t, data[*core.Template](t, e).Active)

	status, _ = call(t, srv, http.MethodDelete, "/api/templates/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	status, e = call(t, srv, http.MethodGet, "/api/templates/"+created.ID, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, e.Success)
}

func Test_API_TemplateValidation(t *testing.T) {
	srv, _ := testServer(t)

	status, e := call(t, srv, http.MethodPost, "/api/templates", template.Def{})
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, e.Success)
	require.Contains(t, e.Error, "name")
}

func Test_API_RecordLifecycle(t *testing.T) {
	srv, store := testServer(t)
	tmpl := reviewTemplate(t, store)

	status, e := call(t, srv, http.MethodPost, "/api/records", record.CreateInput{
		TemplateID:   tmpl.ID,
		FieldValues:  map[string]any{"f-title": "Pressure drift"},
		PrimaryOwner: "bob",
	})
	require.Equal(t, http.StatusCreated, status)

	rec := data[*core.Record](t, e)
	require.Equal(t, "AUD-2025-0001", rec.Code)
	require.Equal(t, "s-draft", rec.CurrentState.StateID)

	status, e = call(t, srv, http.MethodGet, "/api/records/"+rec.ID+"/transitions", nil)
	require.Equal(t, http.StatusOK, status)

	status, e = call(t, srv, http.MethodPost, "/api/records/"+rec.ID+"/state",
		record.ChangeInput{TargetStateID: "s-review"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "s-review", data[*core.Record](t, e).CurrentState.StateID)

	// The approval transition requires a comment.
	status, e = call(t, srv, http.MethodPost, "/api/records/"+rec.ID+"/state",
		record.ChangeInput{TargetStateID: "s-approved"})
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, e.Success)

	status, e = call(t, srv, http.MethodPost, "/api/records/"+rec.ID+"/state",
		record.ChangeInput{TargetStateID: "s-approved", Comment: "verified on site"})
	require.Equal(t, http.StatusOK, status)

	approved := data[*core.Record](t, e)
	require.NotNil(t, approved.CompletedAt)

	// Draft is not reachable from Approved.
	status, _ = call(t, srv, http.MethodPost, "/api/records/"+rec.ID+"/state",
		record.ChangeInput{TargetStateID: "s-draft"})
	require.Equal(t, http.StatusBadRequest, status)
}

func Test_API_RecordLock(t *testing.T) {
	srv, store := testServer(t)
	tmpl := reviewTemplate(t, store)

	status, e := call(t, srv, http.MethodPost, "/api/records", record.CreateInput{TemplateID: tmpl.ID})
	require.Equal(t, http.StatusCreated, status)
	rec := data[*core.Record](t, e)

	status, _ = call(t, srv, http.MethodPost, "/api/records/"+rec.ID+"/lock", record.LockInput{Reason: "editing"})
	require.Equal(t, http.StatusOK, status)

	// A different actor cannot edit while alice holds the lock.
	raw, err := json.Marshal(record.EditInput{FieldValues: map[string]any{"f-title": "x"}})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/records/"+rec.ID, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set(TenantHeader, testTenant)
	req.Header.Set(ActorHeader, "carol")

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusLocked, res.StatusCode)

	// The holder can.
	status, e = call(t, srv, http.MethodPatch, "/api/records/"+rec.ID,
		record.EditInput{FieldValues: map[string]any{"f-title": "x"}})
	require.Equal(t, http.StatusOK, status)
	require.True(t, data[editResult](t, e).Validation.Complete)
}

func Test_API_TemplateDeleteConflict(t *testing.T) {
	srv, store := testServer(t)
	tmpl := reviewTemplate(t, store)

	status, _ := call(t, srv, http.MethodPost, "/api/records", record.CreateInput{TemplateID: tmpl.ID})
	require.Equal(t, http.StatusCreated, status)

	status, e := call(t, srv, http.MethodDelete, "/api/templates/"+tmpl.ID, nil)
	require.Equal(t, http.StatusConflict, status)
	require.False(t, e.Success)
	require.Contains(t, e.Error, "1 active record")
}

func Test_API_Kanban(t *testing.T) {
	srv, store := testServer(t)
	tmpl := reviewTemplate(t, store)

	for i := 0; i < 3; i++ {
		status, _ := call(t, srv, http.MethodPost, "/api/records", record.CreateInput{TemplateID: tmpl.ID})
		require.Equal(t, http.StatusCreated, status)
	}

	status, e := call(t, srv, http.MethodGet, "/api/records/kanban?template_id="+tmpl.ID, nil)
	require.Equal(t, http.StatusOK, status)

	board := data[*record.KanbanBoard](t, e)
	require.Equal(t, 3, board.Total)
	require.Len(t, board.Columns, 3)
	require.Len(t, board.Columns[0].Cards, 3)

	status, e = call(t, srv, http.MethodGet, "/api/records/kanban", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func Test_API_Export(t *testing.T) {
	srv, store := testServer(t)
	tmpl := reviewTemplate(t, store)

	status, _ := call(t, srv, http.MethodPost, "/api/records", record.CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"f-title": "Pressure drift"},
	})
	require.Equal(t, http.StatusCreated, status)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/records/export?template_id="+tmpl.ID, nil)
	require.NoError(t, err)
	req.Header.Set(TenantHeader, testTenant)
	req.Header.Set(ActorHeader, testActor)

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/csv", res.Header.Get("Content-Type"))

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "code,state"))
	require.Contains(t, lines[1], "AUD-2025-0001")
}

func Test_API_Numbering(t *testing.T) {
	srv, _ := testServer(t)

	cfg := core.CounterConfig{Kind: "audit", Prefix: "AUD", Format: "{prefix}-{year}-{number}", ResetYearly: true}

	for i := 1; i <= 2; i++ {
		status, e := call(t, srv, http.MethodPost, "/api/numbering/generate", cfg)
		require.Equal(t, http.StatusCreated, status)
		require.Equal(t, fmt.Sprintf("AUD-2025-%04d", i), data[map[string]string](t, e)["code"])
	}

	status, e := call(t, srv, http.MethodGet, "/api/numbering/example?kind=audit", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "AUD-2025-0003", data[map[string]string](t, e)["code"])

	status, e = call(t, srv, http.MethodGet, "/api/numbering/stats", nil)
	require.Equal(t, http.StatusOK, status)

	stats := data[*numbering.Stats](t, e)
	require.Len(t, stats.Counters, 1)
	require.Equal(t, int64(2), stats.Counters[0].Value)

	status, e = call(t, srv, http.MethodPost, "/api/numbering/reset-yearly", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, int64(1), data[*numbering.ResetResult](t, e).CountersReset)

	status, e = call(t, srv, http.MethodPost, "/api/numbering/generate", cfg)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "AUD-2025-0001", data[map[string]string](t, e)["code"])

	status, _ = call(t, srv, http.MethodPost, "/api/numbering/generate", core.CounterConfig{})
	require.Equal(t, http.StatusBadRequest, status)
}

func Test_API_NotFound(t *testing.T) {
	srv, _ := testServer(t)

	status, e := call(t, srv, http.MethodGet, "/api/records/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, e.Success)
}
