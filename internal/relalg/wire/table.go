package wire

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
	"unicode/utf8"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

// Table is the JSON form of a table value:
//
//	{"name": "A", "columns": [{"name": "id", "domain": "Int"}], "rows": [[1]]}
//
// Scalars are encoded per domain. DateTime values use types.DateTimeLayout
// and Char values are one-character strings.
type Table struct {
	*types.Table
}

type tableJSON struct {
	Name    string            `json:"name"`
	Columns []types.Column    `json:"columns"`
	Rows    []json.RawMessage `json:"rows"`
}

func (t Table) MarshalJSON() ([]byte, error) {
	if t.Table == nil {
		return []byte("null"), nil
	}
	out := tableJSON{
		Name:    t.Name(),
		Columns: t.Columns(),
		Rows:    make([]json.RawMessage, 0, t.NumRows()),
	}
	if out.Columns == nil {
		out.Columns = []types.Column{}
	}
	for i, r := range t.Rows() {
		vals := make([]any, len(r))
		for j, v := range r {
			ev, err := encodeScalar(t.Column(j).Domain, v)
			if err != nil {
				return nil, relerr.Deserialization(err, "table '%s', row %d, position %d", t.Name(), i, j)
			}
			vals[j] = ev
		}
		b, err := json.Marshal(vals)
		if err != nil {
			return nil, relerr.Deserialization(err, "table '%s', row %d", t.Name(), i)
		}
		out.Rows = append(out.Rows, b)
	}
	return json.Marshal(out)
}

func (t *Table) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Table = nil
		return nil
	}
	var in tableJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return relerr.Deserialization(err, "invalid table value")
	}
	rows := make([]types.Row, 0, len(in.Rows))
	for i, raw := range in.Rows {
		var cells []json.RawMessage
		if err := json.Unmarshal(raw, &cells); err != nil {
			return relerr.Deserialization(err, "table '%s', row %d is not an array", in.Name, i)
		}
		if len(cells) != len(in.Columns) {
			return relerr.Deserialization(nil, "table '%s', row %d has %d values, %d expected",
				in.Name, i, len(cells), len(in.Columns))
		}
		row := make(types.Row, len(cells))
		for j, c := range cells {
			v, err := decodeScalar(in.Columns[j].Domain, c)
			if err != nil {
				return relerr.Deserialization(err, "table '%s', row %d, position %d", in.Name, i, j)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	tbl, err := types.NewTable(in.Name, in.Columns, rows)
	if err != nil {
		return relerr.Deserialization(err, "invalid table value '%s'", in.Name)
	}
	t.Table = tbl
	return nil
}

func encodeScalar(d types.Domain, v any) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(types.DateTimeLayout), nil
	case types.Char:
		return x.String(), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, relerr.Validationf("%s value %v has no JSON representation", d, x)
		}
	}
	return v, nil
}

func decodeScalar(d types.Domain, raw json.RawMessage) (any, error) {
	switch d {
	case types.DomainInt:
		var n int32
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n, nil
	case types.DomainLong:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n, nil
	case types.DomainDouble:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil
	case types.DomainString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case types.DomainDateTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		tm, err := time.ParseInLocation(types.DateTimeLayout, s, time.UTC)
		if err != nil {
			return nil, err
		}
		return tm, nil
	case types.DomainBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case types.DomainChar:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if utf8.RuneCountInString(s) != 1 {
			return nil, relerr.Validationf("char value %q must be exactly one character", s)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return types.Char(r), nil
	}
	return nil, relerr.Validationf("unsupported domain %s", d)
}
