// Package expr builds relational-algebra expression trees and converts them
// to and from their wire form.
//
// Trees are built with the generic combinators, which accept any mix of
// tables and sub-expressions:
//
//	e := expr.Union(expr.Intersect(a, b), c)
//
// Schemas are not checked here; an expression over incompatible tables is
// legal and fails when it is executed.
package expr

import (
	"strings"

	"github.com/ariyn/relalg/internal/relalg/types"
)

// Node is either a leaf holding a table or an operator applied to two nodes.
type Node struct {
	table       *types.Table
	op          types.Operation
	left, right *Node
}

// Operand is anything a combinator accepts as an argument.
type Operand interface {
	*types.Table | *Node
}

// Leaf wraps a table.
func Leaf(t *types.Table) *Node {
	return &Node{table: t}
}

func binary[L, R Operand](o types.Operation, l L, r R) *Node {
	return &Node{op: o, left: toNode(l), right: toNode(r)}
}

func toNode[T Operand](v T) *Node {
	switch x := any(v).(type) {
	case *types.Table:
		return Leaf(x)
	case *Node:
		return x
	}
	return nil
}

func Intersect[L, R Operand](l L, r R) *Node  { return binary(types.OpIntersect, l, r) }
func Union[L, R Operand](l L, r R) *Node      { return binary(types.OpUnion, l, r) }
func Difference[L, R Operand](l L, r R) *Node { return binary(types.OpDifference, l, r) }
func Product[L, R Operand](l L, r R) *Node    { return binary(types.OpProduct, l, r) }

// Apply builds a binary node for an operation chosen at runtime.
func Apply(o types.Operation, l, r *Node) *Node {
	return &Node{op: o, left: l, right: r}
}

func (n *Node) IsLeaf() bool { return n.table != nil }

// Table returns the leaf's table, or nil for an operator node.
func (n *Node) Table() *types.Table { return n.table }

func (n *Node) Operation() types.Operation { return n.op }
func (n *Node) Left() *Node               { return n.left }
func (n *Node) Right() *Node              { return n.right }

// Equal reports whether two trees have the same shape, operators and,
// structurally, the same leaf tables.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if n.IsLeaf() || o.IsLeaf() {
		return n.IsLeaf() && o.IsLeaf() && n.table.Equal(o.table)
	}
	return n.op == o.op && n.left.Equal(o.left) && n.right.Equal(o.right)
}

// String renders the tree in infix form, e.g. "((A & B) | C)".
func (n *Node) String() string {
	var sb strings.Builder
	n.format(&sb)
	return sb.String()
}

func (n *Node) format(sb *strings.Builder) {
	switch {
	case n == nil:
		sb.WriteString("<nil>")
	case n.IsLeaf():
		sb.WriteString(n.table.Name())
	default:
		sb.WriteByte('(')
		n.left.format(sb)
		sb.WriteByte(' ')
		sb.WriteString(n.op.Symbol())
		sb.WriteByte(' ')
		n.right.format(sb)
		sb.WriteByte(')')
	}
}

// Tables returns the distinct leaf tables of the tree in argument-list order.
func (n *Node) Tables() []*types.Table {
	var args argsList
	if n.check(0) != nil {
		return nil
	}
	if n.IsLeaf() {
		args.index(n.table)
		return args
	}
	n.encode(&args)
	return args
}
