// SPDX-License-Identifier: MPL-2.0

// Package dag orders partitions for packing. Chain and hash descriptors in a
// vbmeta document reference other partitions, and those must be packed (and
// their metadata recomputed) before the vbmeta that embeds them, so pack
// order is a topological sort over the reference edges.
package dag

import (
	"fmt"
	"sort"
	"strings"
)

type (
	// CycleError indicates the partition references form a cycle, which a
	// valid AVB trust chain never does.
	CycleError struct {
		// Cycle holds the partitions involved (enough of them to identify
		// the problem, not necessarily the exact loop).
		Cycle []string
	}

	// Graph tracks which partitions must be packed before which.
	Graph struct {
		// deps maps each partition to the partitions it depends on.
		deps    map[string][]string
		nodeSet map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("partition dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		deps:    make(map[string][]string),
		nodeSet: make(map[string]bool),
	}
}

// AddPartition registers a partition with no dependencies so far.
func (g *Graph) AddPartition(name string) {
	if !g.nodeSet[name] {
		g.nodeSet[name] = true
	}
}

// AddDependency records that name cannot be packed until dep has been.
// Both partitions are registered implicitly.
func (g *Graph) AddDependency(name, dep string) {
	g.AddPartition(name)
	g.AddPartition(dep)
	g.deps[name] = append(g.deps[name], dep)
}

// PackOrder returns a valid packing order via Kahn's algorithm. Partitions
// with no remaining dependencies are emitted in lexical order so the result
// is stable regardless of discovery order on disk.
func (g *Graph) PackOrder() ([]string, error) {
	if len(g.nodeSet) == 0 {
		return nil, nil
	}

	// Remaining unpacked dependencies per partition, plus the reverse edges
	// used to release dependents once a partition is emitted.
	pending := make(map[string]int, len(g.nodeSet))
	dependents := make(map[string][]string)
	for name := range g.nodeSet {
		pending[name] = len(g.deps[name])
		for _, dep := range g.deps[name] {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range pending {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodeSet))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := dependents[name]
		sort.Strings(released)
		for _, dependent := range released {
			pending[dependent]--
			if pending[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodeSet) {
		var cycle []string
		for name, n := range pending {
			if n > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, &CycleError{Cycle: cycle}
	}

	return order, nil
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}
