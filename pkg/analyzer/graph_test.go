package analyzer

import (
	"context"
	"testing"

	"github.com/sidewallet-engine/pkg/store"
)

func TestExpandGraphDepthAndCycle(t *testing.T) {
	st := store.NewMemoryStore()
	// A→B→C→D chain plus a C→A back-edge forming a cycle.
	seed(t, st, "s1", 1, 1000, "A", "B", 1.0)
	seed(t, st, "s2", 2, 1100, "B", "C", 1.0)
	seed(t, st, "s3", 3, 1200, "C", "D", 1.0)
	seed(t, st, "s4", 4, 1300, "C", "A", 1.0)
	e := newTestEngine(testConfig(), st)

	raw, err := e.expandGraph(context.Background(), "A", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	depths := map[string]int{}
	for _, rc := range raw {
		depths[rc.Address] = rc.Depth
	}
	if depths["B"] != 1 {
		t.Errorf("B depth = %d, want 1", depths["B"])
	}
	if depths["C"] != 1 {
		t.Errorf("C depth = %d, want 1 (reached via the C→A back-edge)", depths["C"])
	}
	if _, ok := depths["D"]; !ok {
		t.Error("D missing at depth 2")
	}
	if _, ok := depths["A"]; ok {
		t.Error("target must never be its own candidate")
	}

	shallow, err := e.expandGraph(context.Background(), "A", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, rc := range shallow {
		if rc.Depth > 1 {
			t.Errorf("%s at depth %d with max depth 1", rc.Address, rc.Depth)
		}
	}
}

func TestExpandGraphTieBreak(t *testing.T) {
	st := store.NewMemoryStore()
	// Busy neighbor first: higher tx count wins at equal depth, then volume.
	seed(t, st, "q1", 1, 1000, "A", "Quiet", 9.0)
	seed(t, st, "b1", 2, 1100, "A", "Busy", 1.0)
	seed(t, st, "b2", 3, 1200, "A", "Busy", 1.0)
	seed(t, st, "r1", 4, 1300, "A", "Rich", 50.0)
	e := newTestEngine(testConfig(), st)

	raw, err := e.expandGraph(context.Background(), "A", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 3 {
		t.Fatalf("candidates = %d, want 3", len(raw))
	}
	if raw[0].Address != "Busy" {
		t.Errorf("first = %s, want Busy (2 tx)", raw[0].Address)
	}
	if raw[1].Address != "Rich" {
		t.Errorf("second = %s, want Rich (50 native beats 9)", raw[1].Address)
	}
	if raw[2].Address != "Quiet" {
		t.Errorf("third = %s, want Quiet", raw[2].Address)
	}
}

func TestExpandGraphExcludesExchanges(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "s1", 1, 1000, "A", "E", 5.0) // E is a known exchange
	seed(t, st, "s2", 2, 1100, "E", "W", 5.0)
	seed(t, st, "s3", 3, 1200, "A", "B", 1.0)
	e := newTestEngine(testConfig(), st)

	raw, err := e.expandGraph(context.Background(), "A", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, rc := range raw {
		if rc.Address == "E" {
			t.Error("known exchange must be excluded from the organic candidate set")
		}
		if rc.Address == "W" {
			t.Error("graph must not expand through a known exchange")
		}
	}
	if len(raw) != 1 || raw[0].Address != "B" {
		t.Errorf("candidates = %+v, want just B", raw)
	}
}

func TestExpandGraphDirectionMerge(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "s1", 1, 1000, "A", "B", 1.0)
	seed(t, st, "s2", 2, 1100, "B", "A", 1.0)
	e := newTestEngine(testConfig(), st)

	raw, err := e.expandGraph(context.Background(), "A", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1 {
		t.Fatalf("candidates = %d, want 1 (B discovered both ways)", len(raw))
	}
	if raw[0].Direction != store.DirectionBoth {
		t.Errorf("direction = %s, want both", raw[0].Direction)
	}
}
