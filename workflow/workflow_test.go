package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/dataflow/workflow"
)

func TestFreezeOrdersTopologicallyWithLexTieBreak(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("c", "User", "create", nil))
	require.NoError(t, b.AddNode("b", "User", "create", nil))
	require.NoError(t, b.AddNode("a", "User", "create", nil))
	b.Connect("c", "", "a", "x")

	wf, err := b.Freeze()
	require.NoError(t, err)

	// "c" must precede "a" (edge); "b" has no dependency and ties on lex
	// order against whichever of {b,c} is ready first.
	order := wf.Order()
	idxC := indexOf(order, "c")
	idxA := indexOf(order, "a")
	assert.Less(t, idxC, idxA)
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestFreezeDetectsCycle(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("a", "User", "create", nil))
	require.NoError(t, b.AddNode("b", "User", "create", nil))
	b.Connect("a", "", "b", "x")
	b.Connect("b", "", "a", "y")

	_, err := b.Freeze()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestFreezeRejectsDanglingEdge(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("a", "User", "create", nil))
	b.Connect("a", "", "ghost", "x")

	_, err := b.Freeze()
	require.Error(t, err)
}

func TestAddNodeRejectsInvalidIdentifier(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	err := b.AddNode("not valid", "User", "create", nil)
	require.Error(t, err)
}

func TestAddNodeRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("a", "User", "create", nil))
	err := b.AddNode("a", "User", "read", nil)
	require.Error(t, err)
}

func TestProjectPathDotPath(t *testing.T) {
	t.Parallel()

	out := map[string]any{"result": map[string]any{"id": 42}}
	v, err := workflow.ProjectPath(out, "result.id")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestProjectPathMissingField(t *testing.T) {
	t.Parallel()

	_, err := workflow.ProjectPath(map[string]any{}, "result.id")
	require.Error(t, err)
}

func TestIndependentGroupsPartitionsByGeneration(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("a", "User", "create", nil))
	require.NoError(t, b.AddNode("b", "User", "create", nil))
	require.NoError(t, b.AddNode("c", "User", "create", nil))
	b.Connect("a", "", "c", "x")
	b.Connect("b", "", "c", "y")

	wf, err := b.Freeze()
	require.NoError(t, err)

	groups := wf.IndependentGroups()
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, groups[0])
	assert.Equal(t, []string{"c"}, groups[1])
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}

func echoHandler(_ context.Context, n *workflow.Node, input map[string]any) (map[string]any, error) {
	out := map[string]any{"node": n.ID}
	for k, v := range input {
		out[k] = v
	}
	return out, nil
}

func TestRuntimeExecuteSyncResolvesEdgeInput(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("create_user", "User", "create", map[string]any{"email": "a@x.com"}))
	require.NoError(t, b.AddNode("read_user", "User", "read", nil))
	b.Connect("create_user", "node", "read_user", "seen_node")

	wf, err := b.Freeze()
	require.NoError(t, err)

	rt := workflow.New(echoHandler)
	res, err := rt.ExecuteSync(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, "create_user", res.Results["read_user"]["seen_node"])
	assert.NotEmpty(t, res.RunID)
}

func TestRuntimeExecuteSyncDeterministic(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("a", "User", "create", map[string]any{"x": 1}))
	wf, err := b.Freeze()
	require.NoError(t, err)

	rt := workflow.New(echoHandler)
	r1, err := rt.ExecuteSync(context.Background(), wf, nil)
	require.NoError(t, err)
	r2, err := rt.ExecuteSync(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, r1.Results["a"]["x"], r2.Results["a"]["x"])
}

func TestRuntimeExecuteAsyncRunsIndependentNodes(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("wf")
	require.NoError(t, b.AddNode("a", "User", "create", map[string]any{"v": 1}))
	require.NoError(t, b.AddNode("b", "User", "create", map[string]any{"v": 2}))
	wf, err := b.Freeze()
	require.NoError(t, err)

	rt := workflow.New(echoHandler)
	res, err := rt.Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Results["a"]["v"])
	assert.Equal(t, 2, res.Results["b"]["v"])
}

// TestRuntimeExecuteRefusesReentry exercises seed scenario G: calling the
// async Execute from a handler that is itself already inside a running
// Execute call must fail with a recognizable "wrong context" fault rather
// than deadlock on a disjoint event loop.
func TestRuntimeExecuteRefusesReentry(t *testing.T) {
	t.Parallel()

	b := workflow.NewBuilder("inner")
	require.NoError(t, b.AddNode("x", "User", "create", nil))
	innerWF, err := b.Freeze()
	require.NoError(t, err)

	var innerRT *workflow.Runtime
	innerRT = workflow.New(func(ctx context.Context, n *workflow.Node, input map[string]any) (map[string]any, error) {
		if n.ID == "trigger" {
			_, err := innerRT.Execute(ctx, innerWF, nil)
			return nil, err
		}
		return echoHandler(ctx, n, input)
	})

	ob := workflow.NewBuilder("outer")
	require.NoError(t, ob.AddNode("trigger", "User", "create", nil))
	outerWF, err := ob.Freeze()
	require.NoError(t, err)

	_, err = innerRT.Execute(context.Background(), outerWF, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong context")
}
