package analyzer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	temporalBucketSeconds = 300 // 5-minute windows
	syncOverlapThreshold  = 0.15
	sameSlotBoostCap      = 5
)

// temporalSignal is S5: co-activity in time. The overlap ratio of
// 5-minute windows feeds the weighted sum; same-slot activity and strong
// window synchronization additionally contribute post-weighting boosts
// computed in the scorer.
func (e *Engine) temporalSignal(ctx context.Context, target, candidate string, since int64, f *features) {
	ov, err := e.store.GetTemporalOverlap(ctx, target, candidate, since, temporalBucketSeconds)
	if err != nil {
		log.Warn().Err(err).Str("candidate", abbrev(candidate)).Msg("temporal overlap failed, signal degraded")
		return
	}
	f.sameSlotCount = ov.SameSlotCount
	f.overlapRatio = ov.OverlapRatio
	f.f5 = ov.OverlapRatio

	if ov.SameSlotCount > 0 {
		f.reasons = append(f.reasons, fmt.Sprintf("Same-slot activity: %d shared slots", ov.SameSlotCount))
	}
	if ov.OverlapRatio > syncOverlapThreshold {
		f.reasons = append(f.reasons, fmt.Sprintf("Synchronized activity windows: %.0f%% overlap", ov.OverlapRatio*100))
	}
}
