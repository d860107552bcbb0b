package source

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingColumn is returned when a row lacks a column the importer
// depends on. It means the legacy schema does not match and is fatal.
var ErrMissingColumn = errors.New("missing column")

// Record is a read-only view over one legacy row. Column order is preserved;
// lookups are case-insensitive.
type Record struct {
	columns []string
	index   map[string]int
	values  []any
}

// NewRecord builds a record from parallel column and value slices.
func NewRecord(columns []string, values []any) Record {
	return Record{columns: columns, index: buildIndex(columns), values: values}
}

// FromMap builds a record from a map; columns are ordered by name. Meant for
// tests and fakes.
func FromMap(m map[string]any) Record {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = m[c]
	}
	return NewRecord(cols, vals)
}

func buildIndex(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[strings.ToLower(c)] = i
	}
	return idx
}

// Columns returns the column names in query order.
func (r Record) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Has reports whether the row carries the column.
func (r Record) Has(col string) bool {
	_, ok := r.index[strings.ToLower(col)]
	return ok
}

// Require returns ErrMissingColumn naming the first absent column.
func (r Record) Require(cols ...string) error {
	for _, c := range cols {
		if !r.Has(c) {
			return fmt.Errorf("%w: %s (have %s)", ErrMissingColumn, c, strings.Join(r.columns, ", "))
		}
	}
	return nil
}

// Value returns the raw driver value. ok is false when the column is absent.
func (r Record) Value(col string) (any, bool) {
	i, ok := r.index[strings.ToLower(col)]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// IsNull reports whether the column is absent or NULL.
func (r Record) IsNull(col string) bool {
	v, ok := r.Value(col)
	return !ok || v == nil
}

// String renders the value as text. NULL and absent columns yield "".
func (r Record) String(col string) string {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Key renders a legacy key. Keys are trimmed because fixed-width CHAR casts
// pad on some servers.
func (r Record) Key(col string) string {
	return strings.TrimSpace(r.String(col))
}

// Int64 parses the value as an integer.
func (r Record) Int64(col string) (int64, bool) {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(r.String(col)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Bool treats non-zero numbers and "true"/"yes"/"y" as true.
func (r Record) Bool(col string) bool {
	if n, ok := r.Int64(col); ok {
		return n != 0
	}
	switch strings.ToLower(strings.TrimSpace(r.String(col))) {
	case "true", "yes", "y", "t":
		return true
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses the value as a timestamp. Zero time when NULL or unparseable.
func (r Record) Time(col string) time.Time {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return time.Time{}
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	s := strings.TrimSpace(r.String(col))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
