package plan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariyn/relalg/internal/relalg/expr"
	"github.com/ariyn/relalg/internal/relalg/relerr"
	"github.com/ariyn/relalg/internal/relalg/types"
)

func tbl(name string) *types.Table {
	return types.NewBuilder(name).Column("id", types.DomainInt).Insert(1).MustBuild()
}

func TestCompile_LeafLeaf(t *testing.T) {
	a, b := tbl("A"), tbl("B")
	g, err := Compile(expr.Intersect(a, b))
	require.NoError(t, err)

	require.Equal(t, 1, g.Len())
	task := g.Task(g.Root())
	assert.Equal(t, types.OpIntersect, task.Operation)
	assert.False(t, task.Left.IsPending())
	assert.Same(t, a, task.Left.Table())
	assert.Same(t, b, task.Right.Table())
	assert.Equal(t, NoTask, task.Parent)
	assert.Empty(t, task.Predecessors())
}

func TestCompile_ChildrenBeforeParent(t *testing.T) {
	a, b, c, d := tbl("A"), tbl("B"), tbl("C"), tbl("D")
	// join point with two expression children
	g, err := Compile(expr.Union(expr.Intersect(a, b), expr.Difference(c, expr.Product(d, a))))
	require.NoError(t, err)

	require.Equal(t, 4, g.Len())
	assert.Equal(t, TaskID(3), g.Root())

	pos := make(map[TaskID]int)
	for i, task := range g.Tasks() {
		assert.Equal(t, TaskID(i), task.ID)
		pos[task.ID] = i
	}
	for _, task := range g.Tasks() {
		for _, p := range task.Predecessors() {
			assert.Less(t, pos[p], pos[task.ID])
			assert.Equal(t, task.ID, g.Task(p).Parent)
		}
	}

	root := g.Task(g.Root())
	assert.Len(t, root.Predecessors(), 2)
	assert.NotSame(t, g.Future(root.Left.From()), g.Future(root.Right.From()))
}

func TestCompile_Rejects(t *testing.T) {
	_, err := Compile(expr.Leaf(tbl("A")))
	require.Error(t, err)
	assert.True(t, relerr.Is(err, relerr.KindValidation))

	_, err = Compile(expr.Apply(types.OpUnion, expr.Leaf(tbl("A")), nil))
	require.Error(t, err)
}

func TestCompileHolder(t *testing.T) {
	h, err := expr.Union(expr.Intersect(tbl("A"), tbl("B")), tbl("C")).ToHolder()
	require.NoError(t, err)
	g, err := CompileHolder(h)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	_, err = CompileHolder(nil)
	assert.True(t, relerr.Is(err, relerr.KindDeserialization))
}

func TestGraph_CancelIsRecursiveAndIdempotent(t *testing.T) {
	a, b, c := tbl("A"), tbl("B"), tbl("C")
	g, err := Compile(expr.Union(expr.Intersect(a, b), expr.Difference(b, c)))
	require.NoError(t, err)

	assert.Equal(t, 3, g.Cancel())
	for _, task := range g.Tasks() {
		assert.True(t, g.Future(task.ID).Cancelled())
	}
	assert.Equal(t, 0, g.Cancel())
}

func TestGraph_CancelAfterCompletionIsNoop(t *testing.T) {
	g, err := Compile(expr.Union(tbl("A"), tbl("B")))
	require.NoError(t, err)
	require.True(t, g.RootFuture().Complete(tbl("R")))

	assert.Equal(t, 0, g.Cancel())
	got, err := g.RootFuture().Result()
	require.NoError(t, err)
	assert.Equal(t, "R", got.Name())
}

func TestGraph_CancelSkipsSettledTasks(t *testing.T) {
	g, err := Compile(expr.Union(expr.Intersect(tbl("A"), tbl("B")), tbl("C")))
	require.NoError(t, err)
	child := g.Task(g.Root()).Left.From()
	require.True(t, g.Future(child).Complete(tbl("AB")))

	assert.Equal(t, 1, g.Cancel())
	assert.False(t, g.Future(child).Cancelled())
}

func TestFuture_FirstWriterWins(t *testing.T) {
	f := NewFuture()
	var wg sync.WaitGroup
	wins := make(chan bool, 30)
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); wins <- f.Complete(tbl("X")) }()
		go func() { defer wg.Done(); wins <- f.Fail(errors.New("x")) }()
		go func() { defer wg.Done(); wins <- f.Cancel() }()
	}
	wg.Wait()
	close(wins)
	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.True(t, f.Settled())
}

func TestFuture_Await(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Settled())

	go f.Fail(relerr.Validationf("bad"))
	_, err = f.Await(context.Background())
	assert.True(t, relerr.Is(err, relerr.KindValidation))
}
