// Package transition decides whether a record may move between two states of
// its template. It is pure: no I/O, no clock, fail-closed on anything it
// cannot resolve.
//
// Comment requirements are not enforced here. The validator surfaces
// RequiresComment in its result and the record manager rejects a state change
// without a comment before committing it.
package transition

import (
	"fmt"
	"strings"

	"github.com/recordflow/recordflow/core"
)

// Result is the outcome of a transition check.
type Result struct {
	Allowed bool

	// RequiresComment is set when the matched transition demands a comment.
	// Only meaningful when Allowed is true.
	RequiresComment bool

	// Reason explains a rejection in caller-presentable terms.
	Reason string
}

// IsAllowed reports whether the move fromStateID -> toStateID is legal for
// the given template and field values. Unknown source states and missing
// transitions are rejected, never errors.
func IsAllowed(t *core.Template, fromStateID, toStateID string, fieldValues map[string]any) Result {
	from := t.State(fromStateID)
	if from == nil {
		return Result{Reason: fmt.Sprintf("state %q not found in template %q", fromStateID, t.Code)}
	}

	tr := from.Transition(toStateID)
	if tr == nil {
		return Result{Reason: fmt.Sprintf("no transition from %q to %q", from.Name, targetName(t, toStateID))}
	}

	if !Evaluate(tr.Conditions, fieldValues) {
		return Result{Reason: fmt.Sprintf("conditions for transition from %q to %q not met", from.Name, targetName(t, toStateID))}
	}

	return Result{Allowed: true, RequiresComment: tr.RequiresComment}
}

// Target describes one currently reachable state.
type Target struct {
	StateID         string `json:"state_id"`
	Name            string `json:"name"`
	Color           string `json:"color,omitempty"`
	RequiresComment bool   `json:"requires_comment"`

	// ConditionsMet reports whether the transition's guards currently hold
	// for the given field values.
	ConditionsMet bool `json:"conditions_met"`
}

// AllowedTargets lists every state reachable from fromStateID, with guard
// evaluation against the given field values. States the template no longer
// defines are skipped.
func AllowedTargets(t *core.Template, fromStateID string, fieldValues map[string]any) []Target {
	from := t.State(fromStateID)
	if from == nil {
		return nil
	}

	targets := make([]Target, 0, len(from.Transitions))
	for _, tr := range from.Transitions {
		target := t.State(tr.TargetStateID)
		if target == nil {
			continue
		}

		targets = append(targets, Target{
			StateID:         target.ID,
			Name:            target.Name,
			Color:           target.Color,
			RequiresComment: tr.RequiresComment,
			ConditionsMet:   Evaluate(tr.Conditions, fieldValues),
		})
	}

	return targets
}

// Evaluate reports whether all conditions hold for the given field values.
// An empty condition set is vacuously true. A condition over a missing field
// or an unsupported operator evaluates to false.
func Evaluate(conditions []core.Condition, fieldValues map[string]any) bool {
	for _, c := range conditions {
		if !evaluateOne(c, fieldValues) {
			return false
		}
	}
	return true
}

func evaluateOne(c core.Condition, fieldValues map[string]any) bool {
	value, present := fieldValues[c.FieldID]

	switch c.Operator {
	case core.OpEmpty:
		return !present || isEmpty(value)
	case core.OpNotEmpty:
		return present && !isEmpty(value)
	}

	if !present {
		return false
	}

	switch c.Operator {
	case core.OpEquals:
		return equal(value, c.Value)
	case core.OpNotEquals:
		return !equal(value, c.Value)
	case core.OpContains:
		return strings.Contains(strings.ToLower(asString(value)), strings.ToLower(asString(c.Value)))
	case core.OpGreaterThan, core.OpGreaterEq, core.OpLessThan, core.OpLessEq:
		return compareNumeric(c.Operator, value, c.Value)
	case core.OpIn:
		return in(value, c.Value)
	}

	return false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func equal(a, b any) bool {
	// Numeric values compare as numbers so 3 == 3.0 regardless of how the
	// JSON layer decoded them.
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return asString(a) == asString(b)
}

func compareNumeric(op core.ConditionOperator, a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return false
	}

	switch op {
	case core.OpGreaterThan:
		return af > bf
	case core.OpGreaterEq:
		return af >= bf
	case core.OpLessThan:
		return af < bf
	case core.OpLessEq:
		return af <= bf
	}
	return false
}

func in(value, set any) bool {
	switch s := set.(type) {
	case []any:
		for _, member := range s {
			if equal(value, member) {
				return true
			}
		}
	case []string:
		for _, member := range s {
			if equal(value, member) {
				return true
			}
		}
	}
	return false
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func targetName(t *core.Template, stateID string) string {
	if s := t.State(stateID); s != nil {
		return s.Name
	}
	return stateID
}
