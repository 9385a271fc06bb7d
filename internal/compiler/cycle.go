package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dispatchr/internal/ir"
)

// defaultAction mirrors dispatch.DefaultAction without importing the engine.
const defaultAction = "default"

// CycleWarning describes a cycle found by static analysis.
type CycleWarning struct {
	Action  string   `json:"action,omitempty"` // Action the cycle occurs in
	Path    []string `json:"path"`             // ["A", "B", "A"]
	Message string   `json:"message"`
	Level   string   `json:"level"` // "error" or "warning"
}

// DetectWaitCycles finds stores that would wait on each other while
// handling the same action. Such an action can never complete (at runtime
// the dispatcher fails it with WAIT_CYCLE), so these are errors.
//
// For every action, the participating handler of each store is its
// explicit handler, or its default handler when it has none; wait_for
// edges only count between participating stores.
func DetectWaitCycles(specs []ir.StoreSpec) []CycleWarning {
	var warnings []CycleWarning

	for _, action := range actionNames(specs) {
		graph := make(dependencyGraph)
		participating := resolveHandlers(specs, action)
		for store, h := range participating {
			graph[store] = []string{}
			for _, target := range h.WaitFor {
				if _, ok := participating[target]; ok {
					graph[store] = append(graph[store], target)
				}
			}
		}

		for _, scc := range tarjanSCC(graph) {
			if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
				w := sccToWarning(scc, graph, "stores wait on each other")
				w.Action = action
				w.Level = "error"
				w.Message = fmt.Sprintf("%s: %s", action, w.Message)
				warnings = append(warnings, w)
			}
		}
	}

	return warnings
}

// DetectDispatchLoops finds actions whose handlers dispatch each other in
// a loop. Each nested dispatch is queued, so this does not deadlock, but
// without a condition it never drains. Reported as warnings.
func DetectDispatchLoops(specs []ir.StoreSpec) []CycleWarning {
	graph := make(dependencyGraph)
	for _, spec := range specs {
		for _, h := range spec.Handlers {
			if graph[h.Action] == nil {
				graph[h.Action] = []string{}
			}
			if h.Dispatch != nil && h.Dispatch.Action != "" {
				graph[h.Action] = append(graph[h.Action], h.Dispatch.Action)
			}
		}
	}

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			w := sccToWarning(scc, graph, "actions dispatch each other")
			w.Level = "warning"
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// actionNames lists every explicit action, sorted. Default handlers take
// part in each of them.
func actionNames(specs []ir.StoreSpec) []string {
	seen := make(map[string]bool)
	for _, spec := range specs {
		for _, h := range spec.Handlers {
			seen[h.Action] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func resolveHandlers(specs []ir.StoreSpec, action string) map[string]ir.HandlerSpec {
	out := make(map[string]ir.HandlerSpec)
	for _, spec := range specs {
		var fallback *ir.HandlerSpec
		for i := range spec.Handlers {
			h := spec.Handlers[i]
			if h.Action == action {
				out[spec.Name] = h
				break
			}
			if h.Action == defaultAction {
				fallback = &spec.Handlers[i]
			}
		}
		if _, ok := out[spec.Name]; !ok && fallback != nil {
			out[spec.Name] = *fallback
		}
	}
	return out
}

// dependencyGraph maps node → nodes it depends on.
type dependencyGraph map[string][]string

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so results are deterministic.
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// Root node: pop the stack into an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func sccToWarning(scc []string, graph dependencyGraph, what string) CycleWarning {
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("%s: %s → %s", what, scc[0], scc[0]),
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("%s: %s", what, strings.Join(path, " → ")),
	}
}

// reconstructCyclePath walks edges inside the SCC from its first member
// until it returns to the start.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		var next string
		for _, neighbor := range graph[current] {
			if members[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
