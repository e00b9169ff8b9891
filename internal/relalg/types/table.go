package types

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ariyn/relalg/internal/relalg/relerr"
)

// Row is one tuple. Element i belongs to column i of its table.
type Row []any

// Key returns a string that is equal for two rows iff the rows are equal.
// Values are type-tagged and strings are length-prefixed.
func (r Row) Key() string {
	var sb strings.Builder
	for _, v := range r {
		switch x := v.(type) {
		case int32:
			sb.WriteByte('i')
			sb.WriteString(strconv.FormatInt(int64(x), 10))
		case int64:
			sb.WriteByte('l')
			sb.WriteString(strconv.FormatInt(x, 10))
		case float64:
			sb.WriteByte('d')
			sb.WriteString(strconv.FormatUint(math.Float64bits(x), 16))
		case string:
			sb.WriteByte('s')
			sb.WriteString(strconv.Itoa(len(x)))
			sb.WriteByte(':')
			sb.WriteString(x)
		case time.Time:
			sb.WriteByte('t')
			sb.WriteString(strconv.FormatInt(x.Unix(), 10))
		case bool:
			if x {
				sb.WriteString("b1")
			} else {
				sb.WriteString("b0")
			}
		case Char:
			sb.WriteByte('c')
			sb.WriteString(strconv.FormatInt(int64(x), 10))
		default:
			sb.WriteByte('?')
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// Equal compares two rows element by element with the same equality as Key.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !valueEqual(r[i], o[i]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && math.Float64bits(x) == math.Float64bits(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Unix() == y.Unix()
	}
	return a == b
}

// Table is an immutable, schema-tagged collection of rows.
// Operators never modify a Table; they always build a new one.
type Table struct {
	name    string
	columns []Column
	rows    []Row
}

// NewTable validates rows against columns and returns a table owning copies
// of both slices. Values are coerced into their canonical runtime types.
func NewTable(name string, columns []Column, rows []Row) (*Table, error) {
	for i, c := range columns {
		if !c.Domain.Valid() {
			return nil, relerr.Validationf("column %d of table '%s' has invalid domain", i, name)
		}
	}
	t := &Table{
		name:    name,
		columns: append([]Column(nil), columns...),
		rows:    make([]Row, 0, len(rows)),
	}
	for _, r := range rows {
		row, err := coerceRow(t.columns, r)
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// newTrusted builds a table from already-canonical rows without copying.
func newTrusted(name string, columns []Column, rows []Row) *Table {
	return &Table{name: name, columns: columns, rows: rows}
}

// Derive builds a table from rows that come from other tables with the same
// column domains. No coercion is performed. Callers must not retain rows.
func Derive(name string, columns []Column, rows []Row) *Table {
	if rows == nil {
		rows = []Row{}
	}
	return newTrusted(name, append([]Column(nil), columns...), rows)
}

func (t *Table) Name() string { return t.name }

// Columns returns a copy of the schema.
func (t *Table) Columns() []Column { return append([]Column(nil), t.columns...) }

func (t *Table) NumColumns() int { return len(t.columns) }

func (t *Table) Column(i int) Column { return t.columns[i] }

func (t *Table) NumRows() int { return len(t.rows) }

// Rows returns the table's rows. The result must be treated as read-only.
func (t *Table) Rows() []Row { return t.rows }

// Equal reports structural equality: name, columns and rows, in order.
func (t *Table) Equal(o *Table) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.name != o.name || len(t.columns) != len(o.columns) || len(t.rows) != len(o.rows) {
		return false
	}
	for i := range t.columns {
		if t.columns[i] != o.columns[i] {
			return false
		}
	}
	for i := range t.rows {
		if !t.rows[i].Equal(o.rows[i]) {
			return false
		}
	}
	return true
}

// SameRows reports whether both tables have equal columns and rows,
// ignoring names.
func (t *Table) SameRows(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	return newTrusted("", t.columns, t.rows).Equal(newTrusted("", o.columns, o.rows))
}

// Project returns a new table with the named columns, in the given order.
func (t *Table) Project(names ...string) (*Table, error) {
	cols := make([]Column, 0, len(names))
	idx := make([]int, 0, len(names))
	for _, n := range names {
		found := -1
		for i, c := range t.columns {
			if c.Name == n {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, relerr.Validationf("no column with name '%s' found in table '%s'", n, t.name)
		}
		cols = append(cols, t.columns[found])
		idx = append(idx, found)
	}
	rows := make([]Row, len(t.rows))
	for i, r := range t.rows {
		nr := make(Row, len(idx))
		for j, k := range idx {
			nr[j] = r[k]
		}
		rows[i] = nr
	}
	return newTrusted("?"+t.name+"?", cols, rows), nil
}

func coerceRow(columns []Column, values Row) (Row, error) {
	if len(values) > len(columns) {
		return nil, relerr.Validationf("too many insert values : %d expected", len(columns))
	}
	if len(values) < len(columns) {
		return nil, relerr.Validationf("not enough insert values : %d expected", len(columns))
	}
	row := make(Row, len(values))
	for i, v := range values {
		cv, err := Coerce(columns[i].Domain, v)
		if err != nil {
			return nil, err
		}
		row[i] = cv
	}
	return row, nil
}

// Coerce converts v into the canonical runtime type of domain d.
func Coerce(d Domain, v any) (any, error) {
	switch d {
	case DomainInt:
		switch x := v.(type) {
		case int32:
			return x, nil
		case int:
			if x >= math.MinInt32 && x <= math.MaxInt32 {
				return int32(x), nil
			}
		case int64:
			if x >= math.MinInt32 && x <= math.MaxInt32 {
				return int32(x), nil
			}
		}
	case DomainLong:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		}
	case DomainDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		}
	case DomainString:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case DomainDateTime:
		if x, ok := v.(time.Time); ok {
			return NormalizeDateTime(x), nil
		}
	case DomainBool:
		if x, ok := v.(bool); ok {
			return x, nil
		}
	case DomainChar:
		switch x := v.(type) {
		case Char:
			return x, nil
		case string:
			if rs := []rune(x); len(rs) == 1 {
				return Char(rs[0]), nil
			}
		}
	}
	return nil, relerr.Validationf("invalid insert value type: %s required", d)
}
