package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

type capturingMailer struct {
	mu     sync.Mutex
	emails []Email
	err    error
}

func (m *capturingMailer) SendEmail(ctx context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emails = append(m.emails, e)
	return nil
}

func (m *capturingMailer) sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.emails...)
}

type capturingTasks struct {
	mu    sync.Mutex
	tasks []Task
}

func (c *capturingTasks) CreateTask(ctx context.Context, t Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, t)
	return nil
}

type capturingMutator struct {
	mu     sync.Mutex
	fields map[string]any
	owner  string
}

func (c *capturingMutator) SetFieldValues(ctx context.Context, tenantID, recordID string, values map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fields == nil {
		c.fields = map[string]any{}
	}
	for k, v := range values {
		c.fields[k] = v
	}
	return nil
}

func (c *capturingMutator) AssignOwner(ctx context.Context, tenantID, recordID, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owner = owner
	return nil
}

func testRecord() *core.Record {
	return &core.Record{
		ID:           "rec-1",
		TenantID:     "plant-a",
		Code:         "AUD-2025-0001",
		PrimaryOwner: "bob",
		CurrentState: core.StateSnapshot{StateID: "s-review", Name: "Review"},
		FieldValues:  map[string]any{"f-title": "Pressure drift"},
		CreatedAt:    time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
}

func ruleState(rules ...*core.ActionRule) *core.State {
	return &core.State{ID: "s-review", Name: "Review", AutomaticActions: rules}
}

func TestDispatcher_SendEmail(t *testing.T) {
	mailer := &capturingMailer{}
	d := NewDispatcher(WithMailer(mailer))
	defer d.Close()

	state := ruleState(&core.ActionRule{
		ID: "a-1", Trigger: core.TriggerOnEnter, Type: core.ActionSendEmail, Active: true,
		Config: map[string]any{
			"to":      "qa@plant-a.example",
			"subject": "{code} entered {state}",
		},
	})

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)

	sent := mailer.sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"qa@plant-a.example"}, sent[0].To)
	require.Equal(t, "AUD-2025-0001 entered Review", sent[0].Subject)
}

func TestDispatcher_SendEmail_OwnerFallback(t *testing.T) {
	mailer := &capturingMailer{}
	d := NewDispatcher(WithMailer(mailer))
	defer d.Close()

	state := ruleState(&core.ActionRule{
		ID: "a-1", Trigger: core.TriggerOnCreate, Type: core.ActionSendEmail, Active: true,
		Config: map[string]any{"subject": "hello"},
	})

	d.Run(context.Background(), testRecord(), state, core.TriggerOnCreate)

	sent := mailer.sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"bob"}, sent[0].To)
}

func TestDispatcher_TriggerFiltering(t *testing.T) {
	mailer := &capturingMailer{}
	d := NewDispatcher(WithMailer(mailer))
	defer d.Close()

	state := ruleState(
		&core.ActionRule{
			ID: "on-create", Trigger: core.TriggerOnCreate, Type: core.ActionSendEmail, Active: true,
			Config: map[string]any{"to": "create@example"},
		},
		&core.ActionRule{
			ID: "on-enter", Trigger: core.TriggerOnEnter, Type: core.ActionSendEmail, Active: true,
			Config: map[string]any{"to": "enter@example"},
		},
		&core.ActionRule{
			ID: "inactive", Trigger: core.TriggerOnEnter, Type: core.ActionSendEmail, Active: false,
			Config: map[string]any{"to": "never@example"},
		},
	)

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)

	sent := mailer.sent()
	require.Len(t, sent, 1)
	require.Equal(t, []string{"enter@example"}, sent[0].To)
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	// The first action fails; the second still runs and Run never returns
	// an error to the caller.
	mailer := &capturingMailer{}
	tasks := &capturingTasks{}
	d := NewDispatcher(WithMailer(mailer), WithTaskCreator(tasks))
	defer d.Close()

	state := ruleState(
		&core.ActionRule{
			ID: "broken", Trigger: core.TriggerOnEnter, Type: core.ActionComputeField, Active: true,
			// No mutator is configured, so this fails.
			Config: map[string]any{"field_id": "f-x", "source": "now"},
		},
		&core.ActionRule{
			ID: "task", Trigger: core.TriggerOnEnter, Type: core.ActionCreateTask, Active: true,
			Config: map[string]any{"title": "Follow up {code}"},
		},
	)

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)

	require.Len(t, tasks.tasks, 1)
	require.Equal(t, "Follow up AUD-2025-0001", tasks.tasks[0].Title)
}

func TestDispatcher_ComputeField(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))

	mutator := &capturingMutator{}
	d := NewDispatcher(WithRecordMutator(mutator), WithBackendOptions(backend.WithClock(mock)))
	defer d.Close()

	state := ruleState(
		&core.ActionRule{
			ID: "elapsed", Trigger: core.TriggerOnEnter, Type: core.ActionComputeField, Active: true,
			Config: map[string]any{"field_id": "f-age", "source": "elapsed_days"},
		},
		&core.ActionRule{
			ID: "copy", Trigger: core.TriggerOnEnter, Type: core.ActionComputeField, Active: true,
			Config: map[string]any{"field_id": "f-copy", "source": "copy", "from": "f-title"},
		},
	)

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)

	require.Equal(t, 9, mutator.fields["f-age"])
	require.Equal(t, "Pressure drift", mutator.fields["f-copy"])
}

func TestDispatcher_AssignUser(t *testing.T) {
	mutator := &capturingMutator{}
	d := NewDispatcher(WithRecordMutator(mutator))
	defer d.Close()

	state := ruleState(&core.ActionRule{
		ID: "assign", Trigger: core.TriggerOnCreate, Type: core.ActionAssignUser, Active: true,
		Config: map[string]any{"user": "carol"},
	})

	d.Run(context.Background(), testRecord(), state, core.TriggerOnCreate)

	require.Equal(t, "carol", mutator.owner)
}

func TestDispatcher_Webhook(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	received := make(chan webhookPayload, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
	}))
	defer srv.Close()

	d := NewDispatcher(WithHTTPClient(srv.Client()), WithWebhookTimeout(5*time.Second))

	state := ruleState(&core.ActionRule{
		ID: "hook", Trigger: core.TriggerOnEnter, Type: core.ActionWebhook, Active: true,
		Config: map[string]any{"url": srv.URL},
	})

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)
	require.NoError(t, d.Close())

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	p := <-received
	require.Equal(t, "rec-1", p.RecordID)
	require.Equal(t, "AUD-2025-0001", p.Code)
	require.Equal(t, "Review", p.State)
	require.Equal(t, string(core.TriggerOnEnter), p.Trigger)
}

func TestDispatcher_WebhookRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fail the first two deliveries, accept the third.
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := NewDispatcher(WithHTTPClient(srv.Client()), WithWebhookTimeout(30*time.Second))

	state := ruleState(&core.ActionRule{
		ID: "hook", Trigger: core.TriggerOnEnter, Type: core.ActionWebhook, Active: true,
		Config: map[string]any{"url": srv.URL},
	})

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)
	require.NoError(t, d.Close())

	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatcher_UnknownActionType(t *testing.T) {
	// Unknown types are logged and skipped, never fatal.
	d := NewDispatcher()
	defer d.Close()

	state := ruleState(&core.ActionRule{
		ID: "mystery", Trigger: core.TriggerOnEnter, Type: "teleport", Active: true,
	})

	d.Run(context.Background(), testRecord(), state, core.TriggerOnEnter)
}

func TestSubstitute(t *testing.T) {
	rec := testRecord()

	tests := []struct {
		in, out string
	}{
		{"{code} entered {state}", "AUD-2025-0001 entered Review"},
		{"assigned to {owner}", "assigned to bob"},
		{"no placeholders", "no placeholders"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.out, substitute(tt.in, rec))
	}
}
