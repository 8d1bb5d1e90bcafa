package enrich

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/harrisonrobin/clockwatch/pkg/clickup"
	"github.com/harrisonrobin/clockwatch/pkg/identity"
)

// ResponsibleStrategy yields the responsible names for a task, or false when
// it has nothing to offer.
type ResponsibleStrategy func(task clickup.Task, rule StatusRule) ([]string, bool)

// CustomFieldPeople reads the people array of the rule's responsible field.
func CustomFieldPeople(task clickup.Task, rule StatusRule) ([]string, bool) {
	field, ok := task.Field(rule.ResponsibleField)
	if !ok || len(field.Value) == 0 {
		return nil, false
	}
	value := gjson.ParseBytes(field.Value)
	if !value.IsArray() {
		return nil, false
	}
	var names []string
	value.ForEach(func(_, person gjson.Result) bool {
		if name := personName(person); name != "" {
			names = append(names, name)
		}
		return true
	})
	names = dedupe(names)
	return names, len(names) > 0
}

// NativeAssignees reads the task's own assignee list.
func NativeAssignees(task clickup.Task, _ StatusRule) ([]string, bool) {
	names := assigneeNames(task)
	return names, len(names) > 0
}

// ResponsibleStrategies returns the resolution order for a rule. Review and
// deploy statuses only trust their dedicated field so that an unset field
// shows up as a missing reviewer or deployer.
func ResponsibleStrategies(rule StatusRule) []ResponsibleStrategy {
	if rule.Kind == KindDefault {
		return []ResponsibleStrategy{CustomFieldPeople, NativeAssignees}
	}
	return []ResponsibleStrategy{CustomFieldPeople}
}

// ResolveResponsible applies the strategies of rule in order.
func ResolveResponsible(task clickup.Task, rule StatusRule) []string {
	for _, strategy := range ResponsibleStrategies(rule) {
		if names, ok := strategy(task, rule); ok {
			return names
		}
	}
	return nil
}

// TimeStrategy yields tracked minutes for a task.
type TimeStrategy func(task clickup.Task, rule StatusRule) (float64, bool)

// CustomFieldNumber reads the rule's time field as a number or numeric string.
func CustomFieldNumber(task clickup.Task, rule StatusRule) (float64, bool) {
	field, ok := task.Field(rule.TimeField)
	if !ok || len(field.Value) == 0 {
		return 0, false
	}
	return parseNumber(gjson.ParseBytes(field.Value))
}

// TimeStrategies returns the resolution order for tracked time.
func TimeStrategies(_ StatusRule) []TimeStrategy {
	return []TimeStrategy{CustomFieldNumber}
}

// ResolveTimeSpent applies the time strategies in order; the result is never
// negative and defaults to 0.
func ResolveTimeSpent(task clickup.Task, rule StatusRule) float64 {
	for _, strategy := range TimeStrategies(rule) {
		if v, ok := strategy(task, rule); ok {
			if v < 0 {
				return 0
			}
			return v
		}
	}
	return 0
}

func parseNumber(v gjson.Result) (float64, bool) {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func personName(p gjson.Result) string {
	for _, key := range []string{"username", "name", "email"} {
		if s := strings.TrimSpace(p.Get(key).String()); s != "" {
			return s
		}
	}
	return ""
}

func assigneeNames(task clickup.Task) []string {
	var names []string
	for _, a := range task.Assignees {
		if n := strings.TrimSpace(a.DisplayName()); n != "" {
			names = append(names, n)
		}
	}
	return dedupe(names)
}

// dedupe drops names that match an earlier one, keeping order.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		key := identity.Normalize(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
