// Package actions executes template-configured side effects when a record is
// created or enters a state. Actions are best-effort: each runs isolated,
// failures are logged and never reach the triggering mutation's error path.
package actions

import (
	"context"
	"strings"
	"time"

	"github.com/recordflow/recordflow/core"
)

// Email is an outgoing message handed to the Mailer collaborator.
type Email struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Task is a work item handed to the TaskCreator collaborator.
type Task struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	RecordID    string     `json:"record_id"`
	RecordCode  string     `json:"record_code"`
}

// Notification is a mention/alert handed to the Notifier collaborator.
type Notification struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body,omitempty"`
	RecordID   string   `json:"record_id,omitempty"`
}

// Mailer delivers email. Implementations live outside this module.
type Mailer interface {
	SendEmail(ctx context.Context, email Email) error
}

// TaskCreator creates follow-up tasks in an external system.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) error
}

// Notifier delivers in-app/mention notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RecordMutator applies record changes produced by actions (computed fields,
// automatic assignment). Implemented by the record manager.
type RecordMutator interface {
	SetFieldValues(ctx context.Context, tenantID, recordID string, values map[string]any) error
	AssignOwner(ctx context.Context, tenantID, recordID, owner string) error
}

// substitute expands {code}, {state} and {owner} placeholders in action
// config strings.
func substitute(s string, rec *core.Record) string {
	s = strings.ReplaceAll(s, "{code}", rec.Code)
	s = strings.ReplaceAll(s, "{state}", rec.CurrentState.Name)
	s = strings.ReplaceAll(s, "{owner}", rec.PrimaryOwner)
	return s
}

func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func configStrings(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

func configFloat(cfg map[string]any, key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
