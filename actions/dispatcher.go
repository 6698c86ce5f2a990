package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/backend/metrics"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/internal/errs"
	"github.com/recordflow/recordflow/internal/metrickeys"
	mi "github.com/recordflow/recordflow/internal/metrics"
	"github.com/recordflow/recordflow/log"
)

type options struct {
	*backend.Options

	Mailer      Mailer
	TaskCreator TaskCreator
	Mutator     RecordMutator

	HTTPClient     *http.Client
	WebhookTimeout time.Duration
	WebhookRetries uint64
}

type DispatcherOption func(*options)

func WithMailer(m Mailer) DispatcherOption {
	return func(o *options) {
		o.Mailer = m
	}
}

func WithTaskCreator(tc TaskCreator) DispatcherOption {
	return func(o *options) {
		o.TaskCreator = tc
	}
}

func WithRecordMutator(m RecordMutator) DispatcherOption {
	return func(o *options) {
		o.Mutator = m
	}
}

func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(o *options) {
		o.HTTPClient = c
	}
}

func WithWebhookTimeout(d time.Duration) DispatcherOption {
	return func(o *options) {
		o.WebhookTimeout = d
	}
}

// WithBackendOptions allows to pass generic backend options.
func WithBackendOptions(opts ...backend.BackendOption) DispatcherOption {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

// Dispatcher runs the automatic actions configured on template states.
type Dispatcher struct {
	mailer      Mailer
	taskCreator TaskCreator
	mutator     RecordMutator

	httpClient     *http.Client
	webhookTimeout time.Duration
	webhookRetries uint64

	clock   clock.Clock
	logger  *slog.Logger
	metrics metrics.Client

	wg sync.WaitGroup
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	backendOptions := backend.ApplyOptions()
	o := &options{
		Options:        &backendOptions,
		HTTPClient:     &http.Client{},
		WebhookTimeout: 10 * time.Second,
		WebhookRetries: 3,
	}

	for _, opt := range opts {
		opt(o)
	}

	return &Dispatcher{
		mailer:         o.Mailer,
		taskCreator:    o.TaskCreator,
		mutator:        o.Mutator,
		httpClient:     o.HTTPClient,
		webhookTimeout: o.WebhookTimeout,
		webhookRetries: o.WebhookRetries,
		clock:          o.Clock,
		logger:         o.Logger,
		metrics:        o.Metrics,
	}
}

// SetRecordMutator wires the record manager in after construction; the
// manager and the dispatcher reference each other.
func (d *Dispatcher) SetRecordMutator(m RecordMutator) {
	d.mutator = m
}

// Run executes the state's active actions matching trigger. Each action is
// isolated: one failing is logged and counted, the rest still run, and the
// caller's mutation is never affected. Webhooks are dispatched asynchronously
// with their own timeout.
func (d *Dispatcher) Run(ctx context.Context, rec *core.Record, state *core.State, trigger core.ActionTrigger) {
	if d == nil || state == nil {
		return
	}

	for _, rule := range state.AutomaticActions {
		if !rule.Active || rule.Trigger != trigger {
			continue
		}

		if rule.Type == core.ActionWebhook {
			d.dispatchWebhook(rec, rule, trigger)
			continue
		}

		timer := mi.NewTimer(d.metrics, metrickeys.ActionDuration, metrics.Tags{metrickeys.ActionType: string(rule.Type)})
		err := d.execute(ctx, rec, rule)
		timer.Stop()

		if err != nil {
			d.logger.ErrorContext(ctx, "automatic action failed",
				log.RecordIDKey, rec.ID,
				log.ActionTypeKey, string(rule.Type),
				log.ActionTriggerKey, string(trigger),
				"error", err,
			)
			d.metrics.Counter(metrickeys.ActionFailed, metrics.Tags{metrickeys.ActionType: string(rule.Type)}, 1)
			continue
		}

		d.metrics.Counter(metrickeys.ActionExecuted, metrics.Tags{metrickeys.ActionType: string(rule.Type)}, 1)
	}
}

// Close waits for in-flight webhook deliveries.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return nil
}

// execute dispatches over the closed set of action kinds. Adding a kind
// requires a new case here.
func (d *Dispatcher) execute(ctx context.Context, rec *core.Record, rule *core.ActionRule) error {
	switch rule.Type {
	case core.ActionSendEmail:
		return d.sendEmail(ctx, rec, rule.Config)
	case core.ActionAssignUser:
		return d.assignUser(ctx, rec, rule.Config)
	case core.ActionComputeField:
		return d.computeField(ctx, rec, rule.Config)
	case core.ActionCreateTask:
		return d.createTask(ctx, rec, rule.Config)
	case core.ActionWebhook:
		// Handled asynchronously in Run.
		return nil
	default:
		return fmt.Errorf("unknown action type %q", rule.Type)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, rec *core.Record, cfg map[string]any) error {
	if d.mailer == nil {
		return fmt.Errorf("no mailer configured")
	}

	to := configStrings(cfg, "to")
	if len(to) == 0 && rec.PrimaryOwner != "" {
		to = []string{rec.PrimaryOwner}
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	return d.mailer.SendEmail(ctx, Email{
		To:      to,
		Subject: substitute(configString(cfg, "subject"), rec),
		Body:    substitute(configString(cfg, "body"), rec),
	})
}

func (d *Dispatcher) assignUser(ctx context.Context, rec *core.Record, cfg map[string]any) error {
	if d.mutator == nil {
		return fmt.Errorf("no record mutator configured")
	}

	user := configString(cfg, "user")
	if user == "" {
		return fmt.Errorf("no user configured")
	}

	return d.mutator.AssignOwner(ctx, rec.TenantID, rec.ID, user)
}

func (d *Dispatcher) computeField(ctx context.Context, rec *core.Record, cfg map[string]any) error {
	if d.mutator == nil {
		return fmt.Errorf("no record mutator configured")
	}

	fieldID := configString(cfg, "field_id")
	if fieldID == "" {
		return fmt.Errorf("no field_id configured")
	}

	var value any
	switch configString(cfg, "source") {
	case "now":
		value = d.clock.Now().UTC().Format(time.RFC3339)
	case "elapsed_days":
		value = int(d.clock.Now().Sub(rec.CreatedAt).Hours() / 24)
	case "copy":
		from := configString(cfg, "from")
		v, ok := rec.FieldValues[from]
		if !ok {
			return fmt.Errorf("source field %q has no value", from)
		}
		value = v
	case "constant":
		value = cfg["value"]
	default:
		return fmt.Errorf("unknown compute source %q", configString(cfg, "source"))
	}

	return d.mutator.SetFieldValues(ctx, rec.TenantID, rec.ID, map[string]any{fieldID: value})
}

func (d *Dispatcher) createTask(ctx context.Context, rec *core.Record, cfg map[string]any) error {
	if d.taskCreator == nil {
		return fmt.Errorf("no task creator configured")
	}

	title := substitute(configString(cfg, "title"), rec)
	if title == "" {
		title = fmt.Sprintf("Follow up on %s", rec.Code)
	}

	task := Task{
		Title:       title,
		Description: substitute(configString(cfg, "description"), rec),
		AssignedTo:  configString(cfg, "assigned_to"),
		RecordID:    rec.ID,
		RecordCode:  rec.Code,
	}

	if days, ok := configFloat(cfg, "due_in_days"); ok {
		due := d.clock.Now().Add(time.Duration(days) * 24 * time.Hour)
		task.DueDate = &due
	}

	return d.taskCreator.CreateTask(ctx, task)
}

// webhookPayload is what gets POSTed to configured webhook URLs.
type webhookPayload struct {
	RecordID  string    `json:"record_id"`
	Code      string    `json:"code"`
	State     string    `json:"state"`
	StateID   string    `json:"state_id"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

// dispatchWebhook delivers asynchronously so a slow receiver never blocks the
// state-change response. Delivery is retried with exponential backoff inside
// its own timeout.
func (d *Dispatcher) dispatchWebhook(rec *core.Record, rule *core.ActionRule, trigger core.ActionTrigger) {
	url := configString(rule.Config, "url")
	if url == "" {
		d.logger.Error("webhook action has no url", log.RecordIDKey, rec.ID)
		return
	}

	payload := webhookPayload{
		RecordID:  rec.ID,
		Code:      rec.Code,
		State:     rec.CurrentState.Name,
		StateID:   rec.CurrentState.StateID,
		Trigger:   string(trigger),
		Timestamp: d.clock.Now().UTC(),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.webhookTimeout)
		defer cancel()

		body, err := json.Marshal(payload)
		if err != nil {
			d.logger.Error("marshaling webhook payload", "error", err)
			return
		}

		deliver := func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := d.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 400 {
				return fmt.Errorf("webhook returned status %d", resp.StatusCode)
			}
			return nil
		}

		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.webhookRetries), ctx)
		if err := backoff.Retry(deliver, bo); err != nil {
			d.logger.Error("webhook delivery failed",
				log.RecordIDKey, rec.ID,
				"url", url,
				"error", err,
				"stack", errs.Stack(err),
			)
			d.metrics.Counter(metrickeys.ActionFailed, metrics.Tags{metrickeys.ActionType: string(core.ActionWebhook)}, 1)
			return
		}

		d.metrics.Counter(metrickeys.ActionExecuted, metrics.Tags{metrickeys.ActionType: string(core.ActionWebhook)}, 1)
	}()
}
