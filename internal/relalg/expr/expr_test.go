package expr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

func users(name string, n int) *types.Table {
	b := types.NewBuilder(name).Column("id", types.DomainInt).Column("email", types.DomainString)
	for i := 1; i <= n; i++ {
		b.Insert(i, fmt.Sprintf("%d@mail", i))
	}
	return b.MustBuild()
}

func roundTrip(t *testing.T, n *Node) (*wire.ExpressionHolder, *Node) {
	t.Helper()
	h, err := n.ToHolder()
	require.NoError(t, err)

	b, err := wire.Marshal(h)
	require.NoError(t, err)
	var back wire.ExpressionHolder
	require.NoError(t, wire.Unmarshal(b, &back))

	got, err := FromHolder(&back)
	require.NoError(t, err)
	return h, got
}

func TestCombinators_AllOverloads(t *testing.T) {
	a, b := users("A", 1), users("B", 2)
	ab := Intersect(a, b)

	cases := []*Node{
		Union(a, b),
		Union(a, ab),
		Union(ab, a),
		Union(ab, Difference(b, a)),
	}
	want := []string{"(A | B)", "(A | (A & B))", "((A & B) | A)", "((A & B) | (B \\ A))"}
	for i, n := range cases {
		assert.Equal(t, want[i], n.String())
	}
	assert.Equal(t, "(A x B)", Product(a, b).String())
}

func TestRoundTrip(t *testing.T) {
	a, b, c, d := users("A", 3), users("B", 4), users("C", 5), users("D", 6)
	trees := []*Node{
		Intersect(a, b),
		Union(Intersect(a, b), c),
		Difference(a, Product(b, c)),
		Union(Intersect(a, b), Difference(c, Product(d, a))),
		Product(Union(Union(a, b), c), Intersect(d, Difference(a, b))),
	}
	for _, n := range trees {
		t.Run(n.String(), func(t *testing.T) {
			_, got := roundTrip(t, n)
			assert.True(t, n.Equal(got), "want %s got %s", n, got)
		})
	}
}

func TestToHolder_DedupesEqualTables(t *testing.T) {
	a := users("A", 3)
	aCopy := users("A", 3)
	b := users("B", 3)

	h, got := roundTrip(t, Union(Intersect(a, b), Difference(aCopy, b)))
	assert.Len(t, h.ArgsList, 2)

	// shared indices decode to the same table value
	assert.Same(t, got.Left().Left().Table(), got.Right().Left().Table())
}

func TestToHolder_TraversalOrder(t *testing.T) {
	a, b, c := users("A", 1), users("B", 2), users("C", 3)

	// sub-expressions are indexed before the node's own table operands
	h, err := Union(a, Intersect(b, c)).ToHolder()
	require.NoError(t, err)
	require.Len(t, h.ArgsList, 3)
	assert.Equal(t, "B", h.ArgsList[0].Name())
	assert.Equal(t, "C", h.ArgsList[1].Name())
	assert.Equal(t, "A", h.ArgsList[2].Name())

	require.NotNil(t, h.RootExpr.RightExpr)
	assert.Nil(t, h.RootExpr.LeftExpr)
	assert.Equal(t, 2, *h.RootExpr.LeftTableIndex)
	assert.Nil(t, h.RootExpr.RightTableIndex)
}

func TestToHolder_LeafRoot(t *testing.T) {
	_, err := Leaf(users("A", 1)).ToHolder()
	require.Error(t, err)
	assert.True(t, relerr.Is(err, relerr.KindValidation))
}

func TestFromHolder_Invalid(t *testing.T) {
	zero, five := 0, 5
	a := wire.Table{Table: users("A", 1)}
	cases := map[string]*wire.ExpressionHolder{
		"no root":    {ArgsList: []wire.Table{a}},
		"bad op":     {ArgsList: []wire.Table{a}, RootExpr: &wire.ExpressionNode{Operation: types.OpNone, LeftTableIndex: &zero, RightTableIndex: &zero}},
		"range":      {ArgsList: []wire.Table{a}, RootExpr: &wire.ExpressionNode{Operation: types.OpUnion, LeftTableIndex: &zero, RightTableIndex: &five}},
		"missing":    {ArgsList: []wire.Table{a}, RootExpr: &wire.ExpressionNode{Operation: types.OpUnion, LeftTableIndex: &zero}},
		"both sides": {ArgsList: []wire.Table{a}, RootExpr: &wire.ExpressionNode{Operation: types.OpUnion, LeftTableIndex: &zero, RightTableIndex: &zero, RightExpr: &wire.ExpressionNode{}}},
		"null arg":   {ArgsList: []wire.Table{{}}, RootExpr: &wire.ExpressionNode{Operation: types.OpUnion, LeftTableIndex: &zero, RightTableIndex: &zero}},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromHolder(h)
			require.Error(t, err)
			assert.True(t, relerr.Is(err, relerr.KindDeserialization), "%v", err)
		})
	}
}

func TestTables(t *testing.T) {
	a, b := users("A", 1), users("B", 2)
	got := Union(Intersect(a, b), a).Tables()
	require.Len(t, got, 2)
	assert.Same(t, a, got[0])
	assert.Same(t, b, got[1])
}
