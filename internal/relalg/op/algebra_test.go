package op

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

func mailTable(name string, from, to int) *types.Table {
	b := types.NewBuilder(name).Column("id", types.DomainInt).Column("email", types.DomainString)
	for i := from; i <= to; i++ {
		b.Insert(i, fmt.Sprintf("%d@mail", i))
	}
	return b.MustBuild()
}

func TestIntersect_Example(t *testing.T) {
	a := mailTable("A", 1, 100)
	b := mailTable("B", 30, 150)

	got, err := Intersect(a, b)
	require.NoError(t, err)
	assert.Equal(t, "(A & B)", got.Name())
	require.Equal(t, 71, got.NumRows())
	assert.Equal(t, types.Row{int32(30), "30@mail"}, got.Rows()[0])
	assert.Equal(t, types.Row{int32(100), "100@mail"}, got.Rows()[70])
	assert.True(t, mailTable("(A & B)", 30, 100).Equal(got))
}

func TestProduct_Example(t *testing.T) {
	a := mailTable("A", 1, 10)
	b := types.NewBuilder("B").Column("flag", types.DomainBool)
	for i := 0; i < 13; i++ {
		b.Insert(i%2 == 0)
	}
	bt := b.MustBuild()

	got, err := Product(a, bt)
	require.NoError(t, err)
	assert.Equal(t, "(A x B)", got.Name())
	assert.Equal(t, 130, got.NumRows())
	assert.Equal(t, append(a.Columns(), bt.Columns()...), got.Columns())
	assert.Equal(t, types.Row{int32(1), "1@mail", true}, got.Rows()[0])
	assert.Equal(t, types.Row{int32(1), "1@mail", false}, got.Rows()[1])
	assert.Equal(t, types.Row{int32(2), "2@mail", true}, got.Rows()[13])
}

func TestUnion_SetSemantics(t *testing.T) {
	a := types.NewBuilder("A").Column("id", types.DomainInt).
		Insert(1).Insert(1).Insert(2).MustBuild()
	b := types.NewBuilder("B").Column("n", types.DomainInt).
		Insert(2).Insert(3).Insert(3).MustBuild()

	got, err := Union(a, b)
	require.NoError(t, err)
	assert.Equal(t, "(A | B)", got.Name())
	assert.Equal(t, []types.Row{{int32(1)}, {int32(2)}, {int32(3)}}, got.Rows())
	assert.Equal(t, a.Columns(), got.Columns())
}

func TestDifference_KeepsOrder(t *testing.T) {
	a := mailTable("A", 1, 10)
	b := mailTable("B", 3, 8)

	got, err := Difference(a, b)
	require.NoError(t, err)
	assert.Equal(t, `(A \ B)`, got.Name())
	ids := make([]int32, 0, got.NumRows())
	for _, r := range got.Rows() {
		ids = append(ids, r[0].(int32))
	}
	assert.Equal(t, []int32{1, 2, 9, 10}, ids)
}

func TestCardinalityBounds(t *testing.T) {
	a := mailTable("A", 1, 40)
	b := mailTable("B", 20, 70)

	u, err := Union(a, b)
	require.NoError(t, err)
	assert.LessOrEqual(t, u.NumRows(), a.NumRows()+b.NumRows())

	i, err := Intersect(a, b)
	require.NoError(t, err)
	assert.LessOrEqual(t, i.NumRows(), min(a.NumRows(), b.NumRows()))

	d, err := Difference(a, b)
	require.NoError(t, err)
	assert.LessOrEqual(t, d.NumRows(), a.NumRows())

	p, err := Product(a, b)
	require.NoError(t, err)
	assert.Equal(t, a.NumRows()*b.NumRows(), p.NumRows())
}

func TestCheckForm_Errors(t *testing.T) {
	t1 := types.NewBuilder("t1").Column("id", types.DomainInt).Column("email", types.DomainString).MustBuild()
	t2 := types.NewBuilder("t2").Column("id", types.DomainInt).MustBuild()
	t3 := types.NewBuilder("t3").Column("id", types.DomainInt).Column("is_working", types.DomainBool).MustBuild()

	for _, fn := range []func(a, b *types.Table) (*types.Table, error){Intersect, Union, Difference} {
		_, err := fn(t1, t2)
		require.Error(t, err)
		assert.Equal(t, "Tables 't1' and 't2' must have the same number of columns", err.Error())
		assert.True(t, relerr.Is(err, relerr.KindValidation))

		_, err = fn(t1, t3)
		require.Error(t, err)
		assert.Equal(t, "Tables 't1' and 't3' must have same column types : 'email' was String and 'is_working' was Bool", err.Error())
	}

	_, err := Product(t1, t2)
	assert.NoError(t, err)
}

func TestApply(t *testing.T) {
	a := mailTable("A", 1, 3)
	b := mailTable("B", 2, 4)

	got, err := Apply(types.OpUnion, a, b)
	require.NoError(t, err)
	assert.Equal(t, 4, got.NumRows())

	_, err = Apply(types.OpNone, a, b)
	require.Error(t, err)
	assert.True(t, relerr.Is(err, relerr.KindValidation))

	_, err = Apply(types.OpUnion, a, nil)
	require.Error(t, err)
}

func TestOperatorsDoNotModifyInputs(t *testing.T) {
	a := mailTable("A", 1, 5)
	b := mailTable("B", 3, 7)
	before := mailTable("A", 1, 5)

	_, err := Product(a, b)
	require.NoError(t, err)
	_, err = Union(a, b)
	require.NoError(t, err)
	assert.True(t, before.Equal(a))
}
