// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"testing"
)

func TestPackOrder_EmptyGraph(t *testing.T) {
	t.Parallel()
	g := New()
	order, err := g.PackOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestPackOrder_NoDependencies(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddPartition("vendor_boot")
	g.AddPartition("boot")
	g.AddPartition("dtbo")

	order, err := g.PackOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Independent partitions come out in lexical order regardless of how
	// they were discovered.
	if !slices.Equal(order, []string{"boot", "dtbo", "vendor_boot"}) {
		t.Errorf("expected lexical order, got %v", order)
	}
}

func TestPackOrder_ChildrenBeforeVbmeta(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddDependency("vbmeta", "boot")
	g.AddDependency("vbmeta", "vbmeta_system")
	g.AddDependency("vbmeta_system", "system")

	order, err := g.PackOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idx := make(map[string]int, len(order))
	for i, name := range order {
		idx[name] = i
	}
	if idx["boot"] > idx["vbmeta"] {
		t.Errorf("boot must pack before vbmeta: %v", order)
	}
	if idx["system"] > idx["vbmeta_system"] {
		t.Errorf("system must pack before vbmeta_system: %v", order)
	}
	if idx["vbmeta_system"] > idx["vbmeta"] {
		t.Errorf("vbmeta_system must pack before vbmeta: %v", order)
	}
}

func TestPackOrder_Deterministic(t *testing.T) {
	t.Parallel()
	build := func(names []string) []string {
		g := New()
		for _, n := range names {
			g.AddPartition(n)
		}
		g.AddDependency("vbmeta", "boot")
		order, err := g.PackOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return order
	}

	a := build([]string{"vbmeta", "system", "boot", "vendor"})
	b := build([]string{"vendor", "boot", "system", "vbmeta"})
	if !slices.Equal(a, b) {
		t.Errorf("order depends on discovery order: %v vs %v", a, b)
	}
}

func TestPackOrder_Cycle(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddDependency("vbmeta", "vbmeta_system")
	g.AddDependency("vbmeta_system", "vbmeta")

	_, err := g.PackOrder()
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Cycle) < 2 {
		t.Errorf("expected at least 2 partitions in cycle, got %v", cycleErr.Cycle)
	}
}
