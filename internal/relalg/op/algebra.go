// Package op implements the relational operators a worker executes.
// Operators never modify their inputs and always return a new table.
package op

import (
	"fmt"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

// CheckForm reports whether t1 and t2 are schema compatible: same number of
// columns and pairwise-equal domains. Column names are not compared.
func CheckForm(t1, t2 *types.Table) error {
	if t1.NumColumns() != t2.NumColumns() {
		return relerr.Validationf("Tables '%s' and '%s' must have the same number of columns",
			t1.Name(), t2.Name())
	}
	for i := 0; i < t1.NumColumns(); i++ {
		c1, c2 := t1.Column(i), t2.Column(i)
		if c1.Domain != c2.Domain {
			return relerr.Validationf("Tables '%s' and '%s' must have same column types : '%s' was %s and '%s' was %s",
				t1.Name(), t2.Name(), c1.Name, c1.Domain, c2.Name, c2.Domain)
		}
	}
	return nil
}

func resultName(o types.Operation, t1, t2 *types.Table) string {
	return fmt.Sprintf("(%s %s %s)", t1.Name(), o.Symbol(), t2.Name())
}

func keySet(t *types.Table) map[string]struct{} {
	set := make(map[string]struct{}, t.NumRows())
	for _, r := range t.Rows() {
		set[r.Key()] = struct{}{}
	}
	return set
}

// Intersect returns the rows of t1 that also occur in t2, in t1 order.
// Each matching row is emitted once.
func Intersect(t1, t2 *types.Table) (*types.Table, error) {
	if err := CheckForm(t1, t2); err != nil {
		return nil, err
	}
	in2 := keySet(t2)
	seen := make(map[string]struct{})
	var rows []types.Row
	for _, r := range t1.Rows() {
		k := r.Key()
		if _, ok := in2[k]; !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, r)
	}
	return types.Derive(resultName(types.OpIntersect, t1, t2), t1.Columns(), rows), nil
}

// Union returns the distinct rows of t1 followed by the rows of t2 that are
// not already present. Duplicates within either input are collapsed.
func Union(t1, t2 *types.Table) (*types.Table, error) {
	if err := CheckForm(t1, t2); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, t1.NumRows()+t2.NumRows())
	rows := make([]types.Row, 0, t1.NumRows()+t2.NumRows())
	for _, t := range []*types.Table{t1, t2} {
		for _, r := range t.Rows() {
			k := r.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			rows = append(rows, r)
		}
	}
	return types.Derive(resultName(types.OpUnion, t1, t2), t1.Columns(), rows), nil
}

// Difference returns the rows of t1 absent from t2, in t1 order.
func Difference(t1, t2 *types.Table) (*types.Table, error) {
	if err := CheckForm(t1, t2); err != nil {
		return nil, err
	}
	in2 := keySet(t2)
	var rows []types.Row
	for _, r := range t1.Rows() {
		if _, ok := in2[r.Key()]; !ok {
			rows = append(rows, r)
		}
	}
	return types.Derive(resultName(types.OpDifference, t1, t2), t1.Columns(), rows), nil
}

// Product returns the Cartesian product of t1 and t2, row1-major. Any two
// tables can be multiplied.
func Product(t1, t2 *types.Table) (*types.Table, error) {
	cols := append(t1.Columns(), t2.Columns()...)
	rows := make([]types.Row, 0, t1.NumRows()*t2.NumRows())
	for _, r1 := range t1.Rows() {
		for _, r2 := range t2.Rows() {
			r := make(types.Row, 0, len(r1)+len(r2))
			r = append(r, r1...)
			r = append(r, r2...)
			rows = append(rows, r)
		}
	}
	return types.Derive(resultName(types.OpProduct, t1, t2), cols, rows), nil
}

// Apply runs operation o on t1 and t2.
func Apply(o types.Operation, t1, t2 *types.Table) (*types.Table, error) {
	if t1 == nil || t2 == nil {
		return nil, relerr.Validationf("operation %s requires two arguments", o)
	}
	switch o {
	case types.OpIntersect:
		return Intersect(t1, t2)
	case types.OpUnion:
		return Union(t1, t2)
	case types.OpDifference:
		return Difference(t1, t2)
	case types.OpProduct:
		return Product(t1, t2)
	}
	return nil, relerr.Validationf("unsupported operation %s", o)
}
