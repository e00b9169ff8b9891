package types

import "github.com/ariyn/relalg/internal/relalg/relerr"

// Builder constructs a Table column by column and row by row.
// The first error is kept and returned by Build; later calls are no-ops.
type Builder struct {
	name    string
	columns []Column
	rows    []Row
	sealed  bool
	err     error
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Column adds a column. Columns cannot be added after the first row.
func (b *Builder) Column(name string, d Domain) *Builder {
	if b.err != nil {
		return b
	}
	if b.sealed {
		b.err = relerr.Validationf("cannot add column: table %s is already initialised", b.name)
		return b
	}
	if !d.Valid() {
		b.err = relerr.Validationf("unsupported column type for '%s'", name)
		return b
	}
	b.columns = append(b.columns, Column{Name: name, Domain: d})
	return b
}

// Insert appends one row.
func (b *Builder) Insert(values ...any) *Builder {
	if b.err != nil {
		return b
	}
	b.sealed = true
	row, err := coerceRow(b.columns, values)
	if err != nil {
		b.err = err
		return b
	}
	b.rows = append(b.rows, row)
	return b
}

// InsertRows appends every row produced by the caller.
func (b *Builder) InsertRows(rows ...Row) *Builder {
	for _, r := range rows {
		b.Insert(r...)
	}
	return b
}

func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	rows := make([]Row, len(b.rows))
	copy(rows, b.rows)
	return newTrusted(b.name, append([]Column(nil), b.columns...), rows), nil
}

// MustBuild is like Build but panics on error. Intended for tests and demos.
func (b *Builder) MustBuild() *Table {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
