package metrics

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RequestDAO stores request records.
type RequestDAO interface {
	Add(r *RequestData)
	Update(r *RequestData)
	Get(ctx context.Context, id string) (*RequestData, error)
	Query(ctx context.Context, q RequestQuery) ([]*RequestData, error)
	Count(ctx context.Context, q RequestQuery) (int, error)
}

const (
	OpEQ   = "EQ"
	OpNEQ  = "NEQ"
	OpLT   = "LT"
	OpLTE  = "LTE"
	OpGT   = "GT"
	OpGTE  = "GTE"
	OpIN   = "IN"
	OpLIKE = "LIKE"
)

var ops = map[string]bool{OpEQ: true, OpNEQ: true, OpLT: true, OpLTE: true, OpGT: true, OpGTE: true, OpIN: true, OpLIKE: true}

type Filter struct {
	Field string
	Op    string
	Value string
}

// RequestQuery selects records. Zero From/To and Count mean unbounded.
type RequestQuery struct {
	From, To  time.Time
	Filters   []Filter
	SortBy    string
	Ascending bool
	Offset    int
	Count     int
}

// fields maps query field names, case-insensitively, to RequestData fields.
var fields = map[string]string{}

func init() {
	t := reflect.TypeOf(RequestData{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "Body" {
			continue
		}
		fields[strings.ToLower(f.Name)] = f.Name
	}
}

// FieldName returns the canonical name of a queryable field.
func FieldName(name string) (string, bool) {
	f, ok := fields[strings.ToLower(name)]
	return f, ok
}

// ParseFilter reads "field:OP:value", e.g. "status:EQ:FINISHED" or
// "responseStatus:IN:200,404".
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Filter{}, fmt.Errorf("invalid filter '%s', expected field:OP:value", s)
	}
	field, ok := FieldName(parts[0])
	if !ok {
		return Filter{}, fmt.Errorf("unknown filter field '%s'", parts[0])
	}
	op := strings.ToUpper(parts[1])
	if !ops[op] {
		return Filter{}, fmt.Errorf("unknown filter operator '%s'", parts[1])
	}
	return Filter{Field: field, Op: op, Value: parts[2]}, nil
}

func (f Filter) values() []string {
	if f.Op != OpIN {
		return []string{f.Value}
	}
	var out []string
	for _, v := range strings.Split(f.Value, ",") {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// likePattern turns a SQL LIKE pattern into a regexp.
func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func fieldValue(r *RequestData, field string) interface{} {
	return reflect.ValueOf(r).Elem().FieldByName(field).Interface()
}

func compare(v interface{}, s string) (int, bool) {
	switch x := v.(type) {
	case string:
		return strings.Compare(x, s), true
	case int:
		n, err := strconv.ParseInt(s, 10, 64)
		return cmpInt(int64(x), n), err == nil
	case int64:
		n, err := strconv.ParseInt(s, 10, 64)
		return cmpInt(x, n), err == nil
	case time.Time:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return 0, false
		}
		return cmpInt(x.UnixNano(), t.UnixNano()), true
	case []string:
		for _, e := range x {
			if e == s {
				return 0, true
			}
		}
		return 1, true
	}
	return 0, false
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Match evaluates the filter against a record in memory.
func (f Filter) Match(r *RequestData) bool {
	v := fieldValue(r, f.Field)
	switch f.Op {
	case OpLIKE:
		return likePattern(f.Value).MatchString(fmt.Sprint(v))
	case OpIN:
		for _, s := range f.values() {
			if c, ok := compare(v, s); ok && c == 0 {
				return true
			}
		}
		return false
	}
	c, ok := compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEQ:
		return c == 0
	case OpNEQ:
		return c != 0
	case OpLT:
		return c < 0
	case OpLTE:
		return c <= 0
	case OpGT:
		return c > 0
	case OpGTE:
		return c >= 0
	}
	return false
}

func (q RequestQuery) match(r *RequestData) bool {
	if !q.From.IsZero() && r.StartTime.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.StartTime.After(q.To) {
		return false
	}
	for _, f := range q.Filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

// apply filters, sorts and pages records in memory.
func (q RequestQuery) apply(all []*RequestData) []*RequestData {
	var out []*RequestData
	for _, r := range all {
		if q.match(r) {
			out = append(out, r)
		}
	}
	sortBy := "StartTime"
	if f, ok := FieldName(q.SortBy); ok && q.SortBy != "" {
		sortBy = f
	}
	sort.SliceStable(out, func(i, j int) bool {
		c, _ := compareValues(fieldValue(out[i], sortBy), fieldValue(out[j], sortBy))
		if q.Ascending {
			return c < 0
		}
		return c > 0
	})
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil
		}
		out = out[q.Offset:]
	}
	if q.Count > 0 && q.Count < len(out) {
		out = out[:q.Count]
	}
	return out
}

func compareValues(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string)), true
	case int:
		return cmpInt(int64(x), int64(b.(int))), true
	case int64:
		return cmpInt(x, b.(int64)), true
	case time.Time:
		return cmpInt(x.UnixNano(), b.(time.Time).UnixNano()), true
	}
	return 0, false
}
