package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/recordflow/recordflow/audit"
	"github.com/recordflow/recordflow/backend/metrics"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/internal/metrickeys"
	"github.com/recordflow/recordflow/log"
	"github.com/recordflow/recordflow/transition"
)

// ChangeInput moves a record to another state. Comment is mandatory when the
// matched transition requires one. SkipValidation bypasses the transition
// validator (reachability, guards and the comment requirement) for
// administrative moves; the target state must still exist on the template.
type ChangeInput struct {
	TargetStateID  string `json:"target_state_id"`
	Comment        string `json:"comment,omitempty"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
}

// ChangeState validates the transition against the record's template and, if
// allowed, snapshots the departing state into the history and enters the
// target. Entering a final state stamps CompletedAt; entering a previously
// visited state counts as a resend; entering a state with a lower order than
// the current one counts as a rejection.
func (m *Manager) ChangeState(ctx context.Context, id core.Identity, recordID string, input ChangeInput) (*core.Record, error) {
	ctx, span := m.tracer.Start(ctx, "record.ChangeState",
		trace.WithAttributes(attribute.String(log.ToStateKey, input.TargetStateID)))
	defer span.End()

	if input.TargetStateID == "" {
		return nil, validationf("target_state_id is required")
	}

	var (
		tmpl   *core.Template
		target *core.State
	)

	rec, err := m.mutate(ctx, id, recordID, func(rec *core.Record) error {
		var err error
		tmpl, err = m.template(ctx, id.TenantID, rec.TemplateID)
		if err != nil {
			return fmt.Errorf("resolving template: %w", err)
		}

		target = tmpl.State(input.TargetStateID)
		if target == nil {
			return &TransitionError{
				From:   rec.CurrentState.Name,
				To:     input.TargetStateID,
				Reason: fmt.Sprintf("state %q does not exist in template %q", input.TargetStateID, tmpl.Code),
			}
		}

		if !input.SkipValidation {
			res := transition.IsAllowed(tmpl, rec.CurrentState.StateID, input.TargetStateID, rec.FieldValues)
			if !res.Allowed {
				return &TransitionError{
					From:   rec.CurrentState.Name,
					To:     input.TargetStateID,
					Reason: res.Reason,
				}
			}
			if res.RequiresComment && strings.TrimSpace(input.Comment) == "" {
				return &CommentRequiredError{To: target.Name}
			}
		}

		from := tmpl.State(rec.CurrentState.StateID)
		now := m.clock.Now()

		if rec.Visited(target.ID) {
			rec.Metrics.Resends++
		}
		if from != nil && target.Order < from.Order {
			rec.Metrics.Rejections++
		}

		rec.StateHistory = append(rec.StateHistory, rec.CurrentState)
		previous := rec.CurrentState
		rec.CurrentState = core.StateSnapshot{
			StateID:   target.ID,
			Name:      target.Name,
			Color:     target.Color,
			EnteredAt: now,
			ChangedBy: id.ActorID,
		}

		if target.Final {
			completed := now
			rec.CompletedAt = &completed
		} else {
			// Re-opening a completed record clears the completion stamp.
			rec.CompletedAt = nil
		}

		details := map[string]any{
			"from_state_id": previous.StateID,
			"to_state_id":   target.ID,
		}
		if input.Comment != "" {
			details["comment"] = input.Comment
		}
		rec.ActivityLog = append(rec.ActivityLog, m.entry(audit.EntryStateChange, id.ActorID,
			fmt.Sprintf("moved from %q to %q", previous.Name, target.Name), details))

		if input.Comment != "" {
			rec.Comments = append(rec.Comments, core.Comment{
				ID:        uuid.NewString(),
				Text:      input.Comment,
				Author:    id.ActorID,
				Timestamp: now,
			})
		}

		m.metrics.Timing(metrickeys.RecordTimeInState,
			metrics.Tags{metrickeys.StateName: previous.Name},
			now.Sub(previous.EnteredAt))

		m.refreshMetrics(rec, tmpl)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "changed record state",
		log.TenantIDKey, id.TenantID,
		log.RecordCodeKey, rec.Code,
		log.FromStateKey, rec.StateHistory[len(rec.StateHistory)-1].Name,
		log.ToStateKey, rec.CurrentState.Name,
	)
	m.metrics.Counter(metrickeys.RecordStateChange, metrics.Tags{metrickeys.StateName: rec.CurrentState.Name}, 1)
	if rec.CompletedAt != nil {
		m.metrics.Counter(metrickeys.RecordCompleted, metrics.Tags{metrickeys.TemplateCode: tmpl.Code}, 1)
	}

	m.dispatcher.Run(ctx, rec, target, core.TriggerOnEnter)

	return rec, nil
}

// AllowedTransitions lists the states the record may move to right now,
// with each transition's guard conditions evaluated against its current
// field values.
func (m *Manager) AllowedTransitions(ctx context.Context, id core.Identity, recordID string) ([]transition.Target, error) {
	rec, err := m.Get(ctx, id, recordID)
	if err != nil {
		return nil, err
	}

	tmpl, err := m.template(ctx, id.TenantID, rec.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("resolving template: %w", err)
	}

	return transition.AllowedTargets(tmpl, rec.CurrentState.StateID, rec.FieldValues), nil
}
