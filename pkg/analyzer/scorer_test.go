package analyzer

import (
	"math"
	"testing"

	"github.com/sidewallet-engine/pkg/config"
)

func defaultWeights() config.SignalWeights {
	return config.SignalWeights{Graph: 0.30, SharedFunders: 0.25, SharedCounter: 0.20, Behavioral: 0.15, Temporal: 0.10}
}

func defaultBoosts() config.Boosts {
	return config.Boosts{SameSlot: 0.08, SyncWindows: 0.10, SharedFunders: 0.06, SharedCounter: 0.03}
}

func TestScoreWeightSumLaw(t *testing.T) {
	// With default weights and zero boosts, maxed features score exactly 1.0.
	f := &features{f1: 1, f2: 1, f3: 1, f4: 1, f5: 1}
	got := score(defaultWeights(), config.Boosts{}, f)
	if got != 1.0 {
		t.Errorf("score = %v, want exactly 1.0 (0.30+0.25+0.20+0.15+0.10)", got)
	}
}

func TestScoreClampLaw(t *testing.T) {
	f := &features{
		f1: 1, f2: 1, f3: 1, f4: 1, f5: 1,
		sameSlotCount: 5, overlapRatio: 1.0,
		sharedFunders:        []string{"F1", "F2", "F3", "F4"},
		sharedCounterparties: []string{"C1", "C2", "C3", "C4", "C5", "C6"},
	}
	got := score(defaultWeights(), defaultBoosts(), f)
	if got != 1.0 {
		t.Errorf("score = %v, want clamp at 1.0", got)
	}
}

func TestScoreBoostCaps(t *testing.T) {
	// Shared-funder boost saturates at 3, counterparty boost at 5.
	f := &features{
		sharedFunders:        []string{"F1", "F2", "F3", "F4", "F5"},
		sharedCounterparties: []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7"},
	}
	got := score(config.SignalWeights{}, defaultBoosts(), f)
	want := 0.06*3 + 0.03*5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("boost score = %v, want %v", got, want)
	}
}

func TestScoreSameSlotBoostScales(t *testing.T) {
	for _, tc := range []struct {
		slots int
		want  float64
	}{
		{0, 0},
		{1, 0.08 * 0.2},
		{5, 0.08},
		{50, 0.08},
	} {
		f := &features{sameSlotCount: tc.slots}
		got := score(config.SignalWeights{}, defaultBoosts(), f)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("sameSlot=%d: score = %v, want %v", tc.slots, got, tc.want)
		}
	}
}

func TestScoreSyncWindowBoostThreshold(t *testing.T) {
	// Below the 0.15 overlap threshold the sync boost must not fire.
	low := &features{overlapRatio: 0.10, f5: 0.10}
	high := &features{overlapRatio: 0.40, f5: 0.40}
	w := defaultWeights()
	b := defaultBoosts()
	gotLow := score(w, b, low)
	if math.Abs(gotLow-0.10*0.10) > 1e-9 {
		t.Errorf("low overlap score = %v, want weighted base only", gotLow)
	}
	gotHigh := score(w, b, high)
	want := 0.10*0.40 + 0.10*0.40
	if math.Abs(gotHigh-want) > 1e-9 {
		t.Errorf("high overlap score = %v, want %v", gotHigh, want)
	}
}

func TestScoreMonotonicity(t *testing.T) {
	w := defaultWeights()
	b := defaultBoosts()
	base := &features{f1: 0.3, f2: 0.2, f3: 0.1, f4: 0.4, f5: 0.05}
	baseScore := score(w, b, base)
	bump := func(mutate func(*features)) float64 {
		f := *base
		mutate(&f)
		return score(w, b, &f)
	}
	if s := bump(func(f *features) { f.f1 += 0.2 }); s < baseScore {
		t.Errorf("raising f1 lowered score: %v -> %v", baseScore, s)
	}
	if s := bump(func(f *features) { f.f2 += 0.2 }); s < baseScore {
		t.Errorf("raising f2 lowered score: %v -> %v", baseScore, s)
	}
	if s := bump(func(f *features) { f.f3 += 0.2 }); s < baseScore {
		t.Errorf("raising f3 lowered score: %v -> %v", baseScore, s)
	}
	if s := bump(func(f *features) { f.f4 += 0.2 }); s < baseScore {
		t.Errorf("raising f4 lowered score: %v -> %v", baseScore, s)
	}
	if s := bump(func(f *features) { f.f5 += 0.2 }); s < baseScore {
		t.Errorf("raising f5 lowered score: %v -> %v", baseScore, s)
	}
}

func TestRankCandidates(t *testing.T) {
	cands := []Candidate{
		{Address: "low", Score: 0.05},
		{Address: "mid", Score: 0.40, Depth: 2, TxCount: 10},
		{Address: "midShallow", Score: 0.40, Depth: 1, TxCount: 1},
		{Address: "high", Score: 0.90, Depth: 3},
		{Address: "midBusy", Score: 0.40, Depth: 2, TxCount: 50},
	}
	ranked := rankCandidates(cands, 0.10, 10)
	if len(ranked) != 4 {
		t.Fatalf("ranked %d candidates, want 4 (threshold drops one)", len(ranked))
	}
	wantOrder := []string{"high", "midShallow", "midBusy", "mid"}
	for i, want := range wantOrder {
		if ranked[i].Address != want {
			t.Errorf("rank %d = %s, want %s", i, ranked[i].Address, want)
		}
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Score > ranked[i-1].Score {
			t.Error("output not non-increasing in score")
		}
	}
	if limited := rankCandidates(cands, 0.10, 2); len(limited) != 2 {
		t.Errorf("limit=2 returned %d", len(limited))
	}
}
