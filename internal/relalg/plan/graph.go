// Package plan compiles expression trees into task graphs.
//
// A Graph is an arena of tasks addressed by TaskID. Each task has one
// Future for its result; a task input is either a table known at compile
// time or the Future of exactly one predecessor task. The graph mirrors the
// expression tree, so every task except the root has exactly one parent.
package plan

import (
	"fmt"

	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
	"github.com/ariyn/relalg/internal/relalg/wire"
)

// TaskID indexes a task in its graph.
type TaskID int

// NoTask is the parent of the root task.
const NoTask TaskID = -1

func (id TaskID) String() string { return fmt.Sprintf("t%d", int(id)) }

// Input is one operand of a task.
type Input struct {
	table *types.Table
	from  TaskID
}

func Resolved(t *types.Table) Input { return Input{table: t, from: NoTask} }
func Pending(id TaskID) Input       { return Input{from: id} }

// IsPending reports whether the input is the result of a predecessor.
func (in Input) IsPending() bool { return in.table == nil }

// Table returns the resolved table, or nil for a pending input.
func (in Input) Table() *types.Table { return in.table }

// From returns the predecessor task, or NoTask for a resolved input.
func (in Input) From() TaskID { return in.from }

// Task is one operator application.
type Task struct {
	ID        TaskID
	Operation types.Operation
	Left      Input
	Right     Input
	Parent    TaskID
}

// Predecessors returns the tasks this task waits for.
func (t Task) Predecessors() []TaskID {
	var ids []TaskID
	for _, in := range []Input{t.Left, t.Right} {
		if in.IsPending() {
			ids = append(ids, in.from)
		}
	}
	return ids
}

// Graph is a compiled expression.
type Graph struct {
	tasks   []Task
	futures []*Future
	root    TaskID
}

// Tasks returns the tasks in child-before-parent order. The root is last.
func (g *Graph) Tasks() []Task { return g.tasks }

func (g *Graph) Len() int { return len(g.tasks) }

func (g *Graph) Task(id TaskID) Task { return g.tasks[id] }

func (g *Graph) Root() TaskID { return g.root }

// Future returns the result slot of task id.
func (g *Graph) Future(id TaskID) *Future { return g.futures[id] }

// RootFuture is the future of the whole expression.
func (g *Graph) RootFuture() *Future { return g.futures[g.root] }

// Cancel cancels every unsettled future reachable from the root. It returns
// the number of futures it cancelled and is a no-op on a settled graph.
func (g *Graph) Cancel() int {
	n := 0
	stack := []TaskID{g.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if g.futures[id].Cancel() {
			n++
		}
		stack = append(stack, g.tasks[id].Predecessors()...)
	}
	return n
}

// Compile turns an expression tree into a task graph. The root must be an
// operator node.
func Compile(n *expr.Node) (*Graph, error) {
	if n == nil || n.IsLeaf() {
		return nil, relerr.Validationf("expression has no operator to compute")
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{}
	g.root = g.add(n)
	return g, nil
}

// CompileHolder decodes and compiles a wire expression.
func CompileHolder(h *wire.ExpressionHolder) (*Graph, error) {
	n, err := expr.FromHolder(h)
	if err != nil {
		return nil, err
	}
	return Compile(n)
}

// add appends the tasks for n, children first, and returns n's id.
func (g *Graph) add(n *expr.Node) TaskID {
	left := g.input(n.Left())
	right := g.input(n.Right())

	id := TaskID(len(g.tasks))
	t := Task{ID: id, Operation: n.Operation(), Left: left, Right: right, Parent: NoTask}
	g.tasks = append(g.tasks, t)
	g.futures = append(g.futures, NewFuture())
	for _, p := range t.Predecessors() {
		g.tasks[p].Parent = id
	}
	return id
}

func (g *Graph) input(n *expr.Node) Input {
	if n.IsLeaf() {
		return Resolved(n.Table())
	}
	return Pending(g.add(n))
}
