package analyzer

import (
	"sort"

	"github.com/sidewallet-engine/pkg/config"
)

// score fuses the five weighted signals with the additive boosts and
// clamps the result to [0, 1]. Boosts apply after the weighted sum, never
// before.
func score(w config.SignalWeights, b config.Boosts, f *features) float64 {
	base := w.Graph*f.f1 +
		w.SharedFunders*f.f2 +
		w.SharedCounter*f.f3 +
		w.Behavioral*f.f4 +
		w.Temporal*f.f5

	boost := 0.0
	if f.sameSlotCount > 0 {
		boost += b.SameSlot * capRatio(float64(f.sameSlotCount)/float64(sameSlotBoostCap), 1.0)
	}
	if f.overlapRatio > syncOverlapThreshold {
		boost += b.SyncWindows * f.overlapRatio
	}
	if n := len(f.sharedFunders); n > 0 {
		boost += b.SharedFunders * float64(minInt(n, 3))
	}
	if n := len(f.sharedCounterparties); n > 0 {
		boost += b.SharedCounter * float64(minInt(n, 5))
	}
	return clamp01(base + boost)
}

// rankCandidates filters by threshold, orders by score descending with
// depth then tx-count tie-breaks, and truncates to limit.
func rankCandidates(cands []Candidate, threshold float64, limit int) []Candidate {
	filtered := cands[:0]
	for _, c := range cands {
		if c.Score >= threshold {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		if filtered[i].Depth != filtered[j].Depth {
			return filtered[i].Depth < filtered[j].Depth
		}
		if filtered[i].TxCount != filtered[j].TxCount {
			return filtered[i].TxCount > filtered[j].TxCount
		}
		return filtered[i].Address < filtered[j].Address
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
