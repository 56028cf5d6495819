package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Handler invokes one node's operation, given its fully resolved input
// parameters, and returns its output document.
type Handler func(ctx context.Context, n *Node, input map[string]any) (map[string]any, error)

// RunResult is the output contract: results keyed by node_id,
// plus the run identifier.
type RunResult struct {
	RunID   string
	Results map[string]map[string]any
}

type runtimeCtxKey struct{}

// runningMarker is stored in ctx while an async Runtime.Execute is in
// flight, so a handler that tries to open a second async runtime from
// inside the first is detected rather than deadlocking on a disjoint event
// loop (the session/event-loop pitfall).
type runningMarker struct{ runID string }

// Runtime executes a frozen Workflow's nodes in topological order,
// resolving each node's input from its static args, explicit runtime
// inputs, and edge-produced predecessor outputs.
type Runtime struct {
	Handler  Handler
	newRunID func() string

	mu sync.Mutex
}

// New returns a Runtime that dispatches every node through handler.
// Run identifiers default to a random UUID (github.com/google/uuid); pass
// WithRunIDFunc to override with a deterministic generator in tests.
func New(handler Handler) *Runtime {
	return &Runtime{Handler: handler, newRunID: func() string { return uuid.New().String() }}
}

// WithRunIDFunc overrides the run-identifier generator, most commonly to
// get deterministic IDs ("run-1", "run-2", ...) in tests.
func (r *Runtime) WithRunIDFunc(f func() string) *Runtime {
	r.newRunID = f
	return r
}

func (r *Runtime) allocateRunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newRunID()
}

// ExecuteSync runs w to completion synchronously, node by node, in
// topological order. Errors abort the run immediately; partial results are
// not returned.
func (r *Runtime) ExecuteSync(ctx context.Context, w *Workflow, runtimeInputs map[string]map[string]any) (*RunResult, error) {
	results := make(map[string]map[string]any, len(w.nodes))
	runID := r.allocateRunID()
	for _, id := range w.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := w.nodes[id]
		input, err := r.resolveInput(n, w, runtimeInputs, results)
		if err != nil {
			return nil, err
		}
		out, err := r.Handler(ctx, n, input)
		if err != nil {
			return nil, &Error{NodeID: id, Msg: err.Error()}
		}
		results[id] = out
	}
	return &RunResult{RunID: runID, Results: results}, nil
}

// Execute runs w asynchronously, executing each independent-node group
// (independent groups) with golang.org/x/sync/errgroup so nodes
// with no dependency relationship run concurrently while every edge's
// happens-before is preserved by only starting a group once its
// predecessors' groups have all completed. It refuses to recurse if ctx is
// already inside a running Execute call, per the session/event-loop
// pitfall above.
func (r *Runtime) Execute(ctx context.Context, w *Workflow, runtimeInputs map[string]map[string]any) (*RunResult, error) {
	if _, already := ctx.Value(runtimeCtxKey{}).(*runningMarker); already {
		return nil, &Error{Msg: "wrong context: already inside a running async workflow; route the call into the current runtime instead of recursing"}
	}
	runID := r.allocateRunID()
	ctx = context.WithValue(ctx, runtimeCtxKey{}, &runningMarker{runID: runID})

	var mu sync.Mutex
	results := make(map[string]map[string]any, len(w.nodes))

	for _, group := range w.IndependentGroups() {
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range group {
			id := id
			g.Go(func() error {
				n := w.nodes[id]
				mu.Lock()
				input, err := r.resolveInput(n, w, runtimeInputs, results)
				mu.Unlock()
				if err != nil {
					return err
				}
				out, err := r.Handler(gctx, n, input)
				if err != nil {
					return &Error{NodeID: id, Msg: err.Error()}
				}
				mu.Lock()
				results[id] = out
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return &RunResult{RunID: runID, Results: results}, nil
}

func (r *Runtime) resolveInput(n *Node, w *Workflow, runtimeInputs map[string]map[string]any, results map[string]map[string]any) (map[string]any, error) {
	input := make(map[string]any, len(n.StaticArgs))
	for k, v := range n.StaticArgs {
		input[k] = v
	}
	if rt, ok := runtimeInputs[n.ID]; ok {
		for k, v := range rt {
			input[k] = v
		}
	}
	for _, e := range w.IncomingEdges(n.ID) {
		out, ok := results[e.FromNodeID]
		if !ok {
			return nil, &Error{NodeID: n.ID, Msg: fmt.Sprintf("predecessor %q has not produced a result yet", e.FromNodeID)}
		}
		v, err := ProjectPath(out, e.OutputPath)
		if err != nil {
			return nil, &Error{NodeID: n.ID, Msg: err.Error()}
		}
		input[e.InputParam] = v
	}
	return input, nil
}
