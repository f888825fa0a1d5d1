package audience

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/foxzi/drip/internal/models"
)

type kind int

const (
	kindText kind = iota
	kindNumber
	kindBool
	kindTime
)

type field struct {
	column string
	kind   kind
}

// fields maps rule field names to contact and pipeline columns
var fields = map[string]field{
	"id":                  {"c.id", kindText},
	"full_name":           {"c.full_name", kindText},
	"phone":               {"c.phone_e164", kindText},
	"email":               {"c.email", kindText},
	"source":              {"c.source", kindText},
	"type":                {"c.type", kindText},
	"is_active":           {"c.is_active", kindBool},
	"opt_in":              {"c.opt_in", kindBool},
	"created_at":          {"c.created_at", kindTime},
	"last_interaction_at": {"c.last_interaction_at", kindTime},
	"stage":               {"p.stage", kindText},
	"temperature":         {"p.temperature", kindText},
	"score":               {"p.score", kindNumber},
	"unread_count":        {"p.unread_count", kindNumber},
}

// Operators accepted in conditions
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpIn          = "in"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpAfter       = "after"
	OpLessThan    = "less_than"
	OpBefore      = "before"
	OpIsTrue      = "is_true"
	OpIsFalse     = "is_false"
)

var relativeDate = regexp.MustCompile(`^NOW(?:-(\d+)DAYS?)?$`)

// Filter is a compiled SQL predicate over contacts c and lead_pipeline p
type Filter struct {
	Where   string
	Args    []any
	Dropped []models.Condition
}

// MatchesNothing reports whether every condition was discarded
func (f *Filter) MatchesNothing() bool {
	return f.Where == "0"
}

// Compile turns a rule set into a SQL predicate. Conditions naming an
// unknown field or operator are dropped. A non-empty rule set whose
// conditions were all dropped compiles to a predicate matching nothing;
// an empty condition list matches every contact.
func Compile(rules *models.RuleSet, now time.Time) *Filter {
	f := &Filter{}
	if rules == nil || len(rules.Conditions) == 0 {
		f.Where = "1"
		return f
	}

	var parts []string
	for _, cond := range rules.Conditions {
		expr, args, ok := compileCondition(cond, now)
		if !ok {
			f.Dropped = append(f.Dropped, cond)
			continue
		}
		parts = append(parts, "("+expr+")")
		f.Args = append(f.Args, args...)
	}

	if len(parts) == 0 {
		f.Where = "0"
		f.Args = nil
		return f
	}

	joiner := " AND "
	if strings.EqualFold(string(rules.Logic), string(models.LogicOr)) {
		joiner = " OR "
	}
	f.Where = strings.Join(parts, joiner)
	return f
}

func compileCondition(cond models.Condition, now time.Time) (string, []any, bool) {
	fd, ok := fields[strings.ToLower(strings.TrimSpace(cond.Field))]
	if !ok {
		return "", nil, false
	}
	op := strings.ToLower(strings.TrimSpace(cond.Operator))
	col := fd.column

	value := cond.Value
	if fd.kind == kindTime || op == OpAfter || op == OpBefore {
		value = resolveDate(value, now)
	}

	switch op {
	case OpEquals:
		if value == nil {
			return col + " IS NULL", nil, true
		}
		return col + " = ?", []any{coerce(fd.kind, value)}, true
	case OpNotEquals:
		return col + " IS NOT ?", []any{coerce(fd.kind, value)}, true
	case OpIn:
		values := toList(value)
		if len(values) == 0 {
			return "0", nil, true
		}
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = coerce(fd.kind, v)
		}
		return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ") + ")", args, true
	case OpContains:
		pattern := "%" + escapeLike(strings.ToLower(fmt.Sprint(value))) + "%"
		return "unicode_lower(" + col + `) LIKE ? ESCAPE '\'`, []any{pattern}, true
	case OpGreaterThan, OpAfter:
		return col + " > ?", []any{coerce(fd.kind, value)}, true
	case OpLessThan, OpBefore:
		return col + " < ?", []any{coerce(fd.kind, value)}, true
	case OpIsTrue:
		return "COALESCE(" + col + ", 0) = 1", nil, true
	case OpIsFalse:
		return "COALESCE(" + col + ", 0) = 0", nil, true
	}
	return "", nil, false
}

// resolveDate understands NOW, NOW-<N>DAYS and ISO dates. Anything else
// is returned unchanged.
func resolveDate(v any, now time.Time) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)

	if m := relativeDate.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		days := 0
		if m[1] != "" {
			days, _ = strconv.Atoi(m[1])
		}
		return now.AddDate(0, 0, -days).UTC()
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return v
}

func coerce(k kind, v any) any {
	switch k {
	case kindBool:
		switch b := v.(type) {
		case bool:
			return b
		case float64:
			return b != 0
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed
			}
		}
	case kindNumber:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return n
			}
		}
	}
	return v
}

func toList(v any) []any {
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
