package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Graph maps every entity kind to the kinds it references by foreign key.
type Graph map[EntityKind][]EntityKind

func DefaultGraph() Graph {
	return Graph{
		EntityCustomer: nil,
		EntityItem:     nil,
		EntityInvoice:  {EntityCustomer, EntityItem},
		EntityPayment:  {EntityInvoice, EntityCustomer},
	}
}

// CycleError reports a dependency cycle. It is a configuration error.
type CycleError struct {
	Path []EntityKind
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, k := range e.Path {
		parts[i] = string(k)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Validate walks the whole graph and fails on the first cycle.
func (g Graph) Validate() error {
	keys := make([]EntityKind, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	_, err := g.TopologicalSort(keys)
	return err
}

// TopologicalSort returns the requested kinds ordered so that every kind comes
// after the requested kinds it depends on. Dependencies outside the request are
// walked for cycle detection but not returned.
func (g Graph) TopologicalSort(kinds []EntityKind) ([]EntityKind, error) {
	requested := make(map[EntityKind]bool, len(kinds))
	for _, k := range kinds {
		requested[k] = true
	}

	visited := make(map[EntityKind]bool, len(g))
	visiting := make(map[EntityKind]bool, len(g))
	var path []EntityKind
	order := make([]EntityKind, 0, len(kinds))

	var visit func(k EntityKind) error
	visit = func(k EntityKind) error {
		if visited[k] {
			return nil
		}
		if visiting[k] {
			start := slices.Index(path, k)
			cycle := append(slices.Clone(path[start:]), k)
			return &CycleError{Path: cycle}
		}
		deps, ok := g[k]
		if !ok {
			return fmt.Errorf("%w: entity %q is not in the dependency graph", ErrInvalidInput, k)
		}

		visiting[k] = true
		path = append(path, k)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		delete(visiting, k)
		visited[k] = true

		if requested[k] {
			order = append(order, k)
		}
		return nil
	}

	for _, k := range kinds {
		if err := visit(k); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Depth is the length of the longest dependency chain below k. The graph must
// be acyclic.
func (g Graph) Depth(k EntityKind) int {
	memo := make(map[EntityKind]int, len(g))
	var depth func(k EntityKind) int
	depth = func(k EntityKind) int {
		if d, ok := memo[k]; ok {
			return d
		}
		d := 0
		for _, dep := range g[k] {
			d = max(d, depth(dep)+1)
		}
		memo[k] = d
		return d
	}
	return depth(k)
}

// PriorityGroups sorts kinds and buckets them by dependency depth. Groups are
// returned in execution order; kinds inside one group are independent.
func (g Graph) PriorityGroups(kinds []EntityKind) ([][]EntityKind, error) {
	sorted, err := g.TopologicalSort(kinds)
	if err != nil {
		return nil, err
	}

	byDepth := make(map[int][]EntityKind)
	maxDepth := -1
	for _, k := range sorted {
		d := g.Depth(k)
		byDepth[d] = append(byDepth[d], k)
		maxDepth = max(maxDepth, d)
	}

	groups := make([][]EntityKind, 0, len(byDepth))
	for d := 0; d <= maxDepth; d++ {
		if len(byDepth[d]) > 0 {
			groups = append(groups, byDepth[d])
		}
	}
	return groups, nil
}
