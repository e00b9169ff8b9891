package expr

import (
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

// maxDepth bounds the nesting accepted from untrusted holders.
const maxDepth = 4096

type argsList []*types.Table

// index returns the position of t, appending it if no structurally equal
// table was seen before.
func (a *argsList) index(t *types.Table) int {
	for i, seen := range *a {
		if seen == t || seen.Equal(t) {
			return i
		}
	}
	*a = append(*a, t)
	return len(*a) - 1
}

// encode assigns argument indices depth first: the left sub-expression, the
// right sub-expression, then the node's own left and right tables.
func (n *Node) encode(args *argsList) *wire.ExpressionNode {
	out := &wire.ExpressionNode{Operation: n.op}
	if !n.left.IsLeaf() {
		out.LeftExpr = n.left.encode(args)
	}
	if !n.right.IsLeaf() {
		out.RightExpr = n.right.encode(args)
	}
	if n.left.IsLeaf() {
		i := args.index(n.left.table)
		out.LeftTableIndex = &i
	}
	if n.right.IsLeaf() {
		i := args.index(n.right.table)
		out.RightTableIndex = &i
	}
	return out
}

// ToHolder serialises the tree. The root must be an operator node.
func (n *Node) ToHolder() (*wire.ExpressionHolder, error) {
	if err := n.check(0); err != nil {
		return nil, err
	}
	if n.IsLeaf() {
		return nil, relerr.Validationf("expression '%s' has no operator to compute", n.table.Name())
	}
	var args argsList
	root := n.encode(&args)
	h := &wire.ExpressionHolder{
		ArgsList: make([]wire.Table, len(args)),
		RootExpr: root,
	}
	for i, t := range args {
		h.ArgsList[i] = wire.Table{Table: t}
	}
	return h, nil
}

// Validate reports a tree with missing operands or unknown operators.
func (n *Node) Validate() error { return n.check(0) }

func (n *Node) check(depth int) error {
	switch {
	case n == nil:
		return relerr.Validationf("expression has a missing operand")
	case depth > maxDepth:
		return relerr.Validationf("expression is nested deeper than %d", maxDepth)
	case n.IsLeaf():
		return nil
	case !n.op.Binary():
		return relerr.Validationf("unsupported operation %s", n.op)
	}
	if err := n.left.check(depth + 1); err != nil {
		return err
	}
	return n.right.check(depth + 1)
}

// FromHolder rebuilds a tree from its wire form. Leaves that share an
// argument index share the same *types.Table.
func FromHolder(h *wire.ExpressionHolder) (*Node, error) {
	if h == nil || h.RootExpr == nil {
		return nil, relerr.Deserialization(nil, "expression holder has no root expression")
	}
	for i, t := range h.ArgsList {
		if t.Table == nil {
			return nil, relerr.Deserialization(nil, "argument %d is null", i)
		}
	}
	return decode(h.RootExpr, h.ArgsList, 0)
}

func decode(en *wire.ExpressionNode, args []wire.Table, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, relerr.Deserialization(nil, "expression is nested deeper than %d", maxDepth)
	}
	if !en.Operation.Binary() {
		return nil, relerr.Deserialization(nil, "unsupported operation %s", en.Operation)
	}
	left, err := decodeSide("left", en.LeftExpr, en.LeftTableIndex, args, depth)
	if err != nil {
		return nil, err
	}
	right, err := decodeSide("right", en.RightExpr, en.RightTableIndex, args, depth)
	if err != nil {
		return nil, err
	}
	return Apply(en.Operation, left, right), nil
}

func decodeSide(side string, sub *wire.ExpressionNode, idx *int, args []wire.Table, depth int) (*Node, error) {
	switch {
	case sub != nil && idx != nil:
		return nil, relerr.Deserialization(nil, "%s operand has both an expression and a table index", side)
	case sub != nil:
		return decode(sub, args, depth+1)
	case idx == nil:
		return nil, relerr.Deserialization(nil, "%s operand is missing", side)
	case *idx < 0 || *idx >= len(args):
		return nil, relerr.Deserialization(nil, "%s table index %d out of range [0, %d)", side, *idx, len(args))
	}
	return Leaf(args[*idx].Table), nil
}
