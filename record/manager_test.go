package record

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/sqlite"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/numbering"
)

var testIdentity = core.Identity{TenantID: "plant-a", ActorID: "alice"}

func testManager(t *testing.T) (*Manager, *clock.Mock, func()) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC))

	store := sqlite.NewInMemoryStore(backend.WithClock(mock))
	gen := numbering.NewGenerator(store, backend.WithClock(mock))
	m := NewManager(store, gen, nil, WithBackendOptions(backend.WithClock(mock)))

	return m, mock, func() {
		require.NoError(t, m.Close())
		require.NoError(t, store.Close())
	}
}

// reviewTemplate is a three-state flow: Draft -> Review -> Approved, with a
// rejection edge Review -> Draft. Review -> Approved requires a comment, and
// Draft -> Review is guarded on the title being filled.
func reviewTemplate(t *testing.T, m *Manager) *core.Template {
	t.Helper()

	tmpl := &core.Template{
		ID:       "tmpl-review",
		TenantID: testIdentity.TenantID,
		Code:     "PLANT-AUDIT",
		Name:     "Internal audit",
		Active:   true,
		States: []*core.State{
			{
				ID: "s-draft", Name: "Draft", Order: 1, Initial: true,
				Fields: []*core.Field{
					{ID: "f-title", Code: "TITLE", Label: "Title", Type: core.FieldTypeText, Required: true, Visible: true, CardVisible: true},
					{ID: "f-severity", Code: "SEVERITY", Label: "Severity", Type: core.FieldTypeSelect, Visible: true},
				},
				Transitions: []*core.Transition{
					{
						TargetStateID: "s-review",
						Conditions:    []core.Condition{{FieldID: "f-title", Operator: core.OpNotEmpty}},
					},
				},
			},
			{
				ID: "s-review", Name: "Review", Order: 2,
				Fields: []*core.Field{
					{ID: "f-title", Code: "TITLE", Label: "Title", Type: core.FieldTypeText, Required: true, Visible: true},
				},
				Transitions: []*core.Transition{
					{TargetStateID: "s-approved", RequiresComment: true},
					{TargetStateID: "s-draft"},
				},
			},
			{
				ID: "s-approved", Name: "Approved", Order: 3, Final: true,
			},
		},
		AdvancedConfig: core.AdvancedConfig{
			Numbering: core.CounterConfig{Kind: "audit", Prefix: "AUD", Format: "{prefix}-{year}-{number}", ResetYearly: true},
		},
		Audit: core.Audit{Version: 1, CreatedAt: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}

	require.NoError(t, m.store.CreateTemplate(context.Background(), tmpl))
	return tmpl
}

func TestManager_Create(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(context.Background(), testIdentity, CreateInput{
		TemplateID:   tmpl.ID,
		FieldValues:  map[string]any{"f-title": "Line 3 pressure drift"},
		PrimaryOwner: "bob",
		Priority:     core.PriorityHigh,
	})
	require.NoError(t, err)

	require.Equal(t, "AUD-2025-0001", rec.Code)
	require.Equal(t, "s-draft", rec.CurrentState.StateID)
	require.Equal(t, int64(1), rec.Version)
	require.Len(t, rec.ActivityLog, 1)
	require.Equal(t, audit.EntryCreation, rec.ActivityLog[0].Type)

	// Visible fields on Draft: title (filled) and severity (empty).
	require.InDelta(t, 0.5, rec.Metrics.FieldCompletion, 0.001)

	stored, err := m.store.GetTemplate(context.Background(), testIdentity.TenantID, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Stats.InstanceCount)
}

func TestManager_Create_InactiveTemplate(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	tmpl := reviewTemplate(t, m)
	tmpl.Active = false
	tmpl.Audit.Version = 2
	require.NoError(t, m.store.UpdateTemplate(context.Background(), tmpl))

	_, err := m.Create(context.Background(), testIdentity, CreateInput{TemplateID: tmpl.ID})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestManager_ChangeState(t *testing.T) {
	m, mock, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"f-title": "Calibration overdue"},
	})
	require.NoError(t, err)

	mock.Add(2 * time.Hour)

	rec, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-review"})
	require.NoError(t, err)
	require.Equal(t, "Review", rec.CurrentState.Name)
	require.Len(t, rec.StateHistory, 1)
	require.Equal(t, "s-draft", rec.StateHistory[0].StateID)
	require.Equal(t, 2*time.Hour, rec.Metrics.TimeInState["s-draft"])
	require.Nil(t, rec.CompletedAt)

	// Entering the final state without the required comment is refused.
	_, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-approved"})
	var cerr *CommentRequiredError
	require.ErrorAs(t, err, &cerr)

	rec, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{
		TargetStateID: "s-approved",
		Comment:       "approved after verification",
	})
	require.NoError(t, err)
	require.NotNil(t, rec.CompletedAt)
	require.Len(t, rec.Comments, 1)
	require.Equal(t, "approved after verification", rec.Comments[0].Text)
}

func TestManager_ChangeState_GuardBlocks(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	// No title value, so the Draft -> Review guard fails.
	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	_, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-review"})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, "Draft", terr.From)
}

func TestManager_ChangeState_SkipValidation(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	// No title, so even the declared Draft -> Review edge is guarded off;
	// Draft -> Approved has no edge at all.
	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	_, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-approved"})
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)

	rec, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{
		TargetStateID:  "s-approved",
		SkipValidation: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Approved", rec.CurrentState.Name)
	require.NotNil(t, rec.CompletedAt)
	require.Len(t, rec.StateHistory, 1)
}

func TestManager_ChangeState_UnknownTarget(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()

	// A template whose only transition points at a state that was removed
	// from the definition. The change must fail cleanly, validation or not.
	tmpl := &core.Template{
		ID:       "tmpl-stale",
		TenantID: testIdentity.TenantID,
		Code:     "STALE",
		Name:     "Stale flow",
		Active:   true,
		States: []*core.State{
			{
				ID: "s-open", Name: "Open", Order: 1, Initial: true,
				Transitions: []*core.Transition{{TargetStateID: "s-gone"}},
			},
		},
		AdvancedConfig: core.AdvancedConfig{
			Numbering: core.CounterConfig{Kind: "stale", Prefix: "ST", Format: "{prefix}-{number}"},
		},
		Audit: core.Audit{Version: 1},
	}
	require.NoError(t, m.store.CreateTemplate(ctx, tmpl))

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	var terr *TransitionError
	_, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-gone"})
	require.ErrorAs(t, err, &terr)
	require.Contains(t, terr.Reason, "does not exist")

	_, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{
		TargetStateID:  "s-gone",
		SkipValidation: true,
	})
	require.ErrorAs(t, err, &terr)
}

func TestManager_ChangeState_RejectionCounts(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"f-title": "NC-17"},
	})
	require.NoError(t, err)

	rec, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-review"})
	require.NoError(t, err)

	// Review back to Draft is both a rejection (lower order) and, because
	// Draft was already visited, a resend.
	rec, err = m.ChangeState(ctx, testIdentity, rec.ID, ChangeInput{TargetStateID: "s-draft"})
	require.NoError(t, err)
	require.Equal(t, 1, rec.Metrics.Rejections)
	require.Equal(t, 1, rec.Metrics.Resends)
}

func TestManager_AllowedTransitions(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	targets, err := m.AllowedTransitions(ctx, testIdentity, rec.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, "s-review", targets[0].StateID)
	require.False(t, targets[0].ConditionsMet)
}

func TestManager_Edit_Locked(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	rec, err = m.ToggleLock(ctx, testIdentity, rec.ID, LockInput{Reason: "reviewing"})
	require.NoError(t, err)
	require.True(t, rec.Locked)
	require.Equal(t, "alice", rec.LockedBy)

	// The holder can still edit.
	_, _, err = m.Edit(ctx, testIdentity, rec.ID, EditInput{
		FieldValues: map[string]any{"f-title": "updated"},
	})
	require.NoError(t, err)

	// Anyone else cannot.
	other := core.Identity{TenantID: testIdentity.TenantID, ActorID: "carol"}
	_, _, err = m.Edit(ctx, other, rec.ID, EditInput{
		FieldValues: map[string]any{"f-title": "hijacked"},
	})
	var lerr *LockedError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, "alice", lerr.LockedBy)

	// But a foreign unlock is allowed and attributed.
	rec, err = m.ToggleLock(ctx, other, rec.ID, LockInput{})
	require.NoError(t, err)
	require.False(t, rec.Locked)

	last := rec.ActivityLog[len(rec.ActivityLog)-1]
	require.Equal(t, audit.EntryUnlock, last.Type)
	require.Equal(t, "carol", last.Actor)
	require.Equal(t, "alice", last.Details["held_by"])
}

func TestManager_Edit_Validation(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	_, validation, err := m.Edit(ctx, testIdentity, rec.ID, EditInput{
		FieldValues: map[string]any{"f-severity": "major"},
	})
	require.NoError(t, err)
	require.False(t, validation.Complete)
	require.Equal(t, []string{"Title"}, validation.MissingRequired)

	_, validation, err = m.Edit(ctx, testIdentity, rec.ID, EditInput{
		FieldValues: map[string]any{"f-title": "Valve leak"},
	})
	require.NoError(t, err)
	require.True(t, validation.Complete)
	require.InDelta(t, 1.0, validation.Ratio, 0.001)
}

func TestManager_Checklist(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	rec, err = m.UpsertChecklist(ctx, testIdentity, rec.ID, ChecklistInput{
		Items: []ChecklistItemInput{
			{Text: "Collect samples"},
			{Text: "Interview operator"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rec.Checklist, 2)
	require.Zero(t, rec.Metrics.CompletionPercent)

	done := true
	rec, err = m.UpsertChecklist(ctx, testIdentity, rec.ID, ChecklistInput{
		Items: []ChecklistItemInput{{ID: rec.Checklist[0].ID, Done: &done}},
	})
	require.NoError(t, err)
	require.True(t, rec.Checklist[0].Done)
	require.Equal(t, "alice", rec.Checklist[0].CompletedBy)
	require.InDelta(t, 50.0, rec.Metrics.CompletionPercent, 0.001)
}

func TestManager_Clone(t *testing.T) {
	m, mock, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	src, err := m.Create(ctx, testIdentity, CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"f-title": "Recurring deviation"},
	})
	require.NoError(t, err)

	src, err = m.ChangeState(ctx, testIdentity, src.ID, ChangeInput{TargetStateID: "s-review"})
	require.NoError(t, err)

	mock.Add(time.Hour)

	clone, err := m.Clone(ctx, testIdentity, src.ID)
	require.NoError(t, err)

	require.NotEqual(t, src.ID, clone.ID)
	require.Equal(t, "AUD-2025-0002", clone.Code)

	// The clone keeps the source's current state but enters it fresh, with
	// no history behind it.
	require.Equal(t, "s-review", clone.CurrentState.StateID)
	require.Equal(t, "Review", clone.CurrentState.Name)
	require.Equal(t, mock.Now(), clone.CurrentState.EnteredAt)
	require.True(t, clone.CurrentState.EnteredAt.After(src.CurrentState.EnteredAt))

	require.Equal(t, src.FieldValues, clone.FieldValues)
	require.Empty(t, clone.StateHistory)
	require.Len(t, clone.ActivityLog, 1)
	require.Equal(t, audit.EntryClone, clone.ActivityLog[0].Type)
}

func TestManager_Archive(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	require.NoError(t, m.Archive(ctx, testIdentity, rec.ID))

	_, err = m.Get(ctx, testIdentity, rec.ID)
	require.ErrorIs(t, err, backend.ErrRecordNotFound)

	err = m.Archive(ctx, testIdentity, rec.ID)
	var aerr *AlreadyArchivedError
	require.ErrorAs(t, err, &aerr)
}

func TestManager_Kanban(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	first, err := m.Create(ctx, testIdentity, CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"f-title": "Audit line 1"},
	})
	require.NoError(t, err)
	second, err := m.Create(ctx, testIdentity, CreateInput{
		TemplateID:  tmpl.ID,
		FieldValues: map[string]any{"f-title": "Audit line 2"},
		Priority:    core.PriorityUrgent,
	})
	require.NoError(t, err)

	_, err = m.ChangeState(ctx, testIdentity, first.ID, ChangeInput{TargetStateID: "s-review"})
	require.NoError(t, err)

	_, err = m.Comment(ctx, testIdentity, second.ID, CommentInput{Text: "needs a second pass"})
	require.NoError(t, err)
	second, err = m.UpsertChecklist(ctx, testIdentity, second.ID, ChecklistInput{
		Items: []ChecklistItemInput{{Text: "Walk the line"}, {Text: "File report"}},
	})
	require.NoError(t, err)
	done := true
	_, err = m.UpsertChecklist(ctx, testIdentity, second.ID, ChecklistInput{
		Items: []ChecklistItemInput{{ID: second.Checklist[0].ID, Done: &done}},
	})
	require.NoError(t, err)

	board, err := m.Kanban(ctx, testIdentity, tmpl.ID)
	require.NoError(t, err)

	require.Equal(t, 2, board.Total)
	require.Len(t, board.Columns, 3)
	require.Equal(t, "Draft", board.Columns[0].Name)
	require.Len(t, board.Columns[0].Cards, 1)
	require.Len(t, board.Columns[1].Cards, 1)
	require.Empty(t, board.Columns[2].Cards)

	require.Equal(t, 1, board.Columns[0].Urgent)
	require.Zero(t, board.Columns[1].Urgent)

	card := board.Columns[0].Cards[0]
	require.Equal(t, "Draft", card.State)
	require.Equal(t, core.PriorityUrgent, card.Priority)
	require.Equal(t, 1, card.Comments)
	require.Zero(t, card.Attachments)
	// Title is filled, severity is not: half the visible fields carry values.
	require.InDelta(t, 0.5, card.Progress, 0.001)
	require.InDelta(t, 50.0, card.ChecklistPercent, 0.001)
	require.Len(t, card.CardFields, 1)
	require.Equal(t, "Title", card.CardFields[0].Label)
	require.Equal(t, "Audit line 2", card.CardFields[0].Value)
}

func TestManager_ExportCSV(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	_, err := m.Create(ctx, testIdentity, CreateInput{
		TemplateID:   tmpl.ID,
		FieldValues:  map[string]any{"f-title": "Pressure drift", "f-severity": "minor"},
		PrimaryOwner: "bob",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Export(ctx, testIdentity, tmpl.ID, ExportCSV, backend.RecordFilter{}, &buf))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	header := rows[0]
	require.Equal(t, "code", header[0])
	require.Contains(t, header, "Title")
	require.Contains(t, header, "Severity")

	require.Equal(t, "AUD-2025-0001", rows[1][0])
	require.Equal(t, "Draft", rows[1][1])
	require.Equal(t, "bob", rows[1][2])
}

func TestManager_Comment_OnLockedRecord(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	_, err = m.ToggleLock(ctx, testIdentity, rec.ID, LockInput{})
	require.NoError(t, err)

	// Comments bypass the edit lock even for other actors.
	other := core.Identity{TenantID: testIdentity.TenantID, ActorID: "carol"}
	rec, err = m.Comment(ctx, other, rec.ID, CommentInput{Text: "please recheck step 4"})
	require.NoError(t, err)
	require.Len(t, rec.Comments, 1)
}

func TestManager_TenantIsolation(t *testing.T) {
	m, _, teardown := testManager(t)
	defer teardown()

	ctx := context.Background()
	tmpl := reviewTemplate(t, m)

	rec, err := m.Create(ctx, testIdentity, CreateInput{TemplateID: tmpl.ID})
	require.NoError(t, err)

	stranger := core.Identity{TenantID: "plant-b", ActorID: "mallory"}
	_, err = m.Get(ctx, stranger, rec.ID)
	require.ErrorIs(t, err, backend.ErrRecordNotFound)
}
