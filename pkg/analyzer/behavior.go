package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

const (
	behavioralMinTx  = 10
	logDistanceScale = 3.0
	logEpsilon       = 1e-9

	volumeWeight    = 0.40
	frequencyWeight = 0.35
	hourWeight      = 0.25
)

// behavioralSignal is S4: similarity of volume, frequency and hour-of-day
// habits. It only fires when both wallets have at least ten transactions
// inside the window; thin histories are too noisy to compare.
func (e *Engine) behavioralSignal(ctx context.Context, target, candidate string, since int64, f *features) {
	pa, err := e.store.GetBehavioralProfile(ctx, target, since)
	if err != nil {
		log.Warn().Err(err).Str("candidate", abbrev(candidate)).Msg("behavioral profile failed, signal degraded")
		return
	}
	pb, err := e.store.GetBehavioralProfile(ctx, candidate, since)
	if err != nil {
		log.Warn().Err(err).Str("candidate", abbrev(candidate)).Msg("behavioral profile failed, signal degraded")
		return
	}
	if pa.TxCount < behavioralMinTx || pb.TxCount < behavioralMinTx {
		return
	}

	volume := logSimilarity(pa.AvgNativePerTx, pb.AvgNativePerTx)
	frequency := logSimilarity(pa.TxPerDay, pb.TxPerDay)
	hours := hourSimilarity(pa.ModeHour(), pb.ModeHour())

	f.f4 = volumeWeight*volume + frequencyWeight*frequency + hourWeight*hours
	f.reasons = append(f.reasons, fmt.Sprintf(
		"Behavioral similarity %.2f (volume %.2f, frequency %.2f, hours %.2f)",
		f.f4, volume, frequency, hours))
}

// logSimilarity compares two positive magnitudes on a log10 scale:
// identical values score 1.0, values three orders of magnitude apart
// score 0.
func logSimilarity(a, b float64) float64 {
	d := math.Abs(math.Log10(a+logEpsilon) - math.Log10(b+logEpsilon))
	s := 1.0 - d/logDistanceScale
	if s < 0 {
		return 0
	}
	return s
}

// hourSimilarity compares the most active UTC hours on the 24h circle.
func hourSimilarity(ha, hb int) float64 {
	if ha < 0 || hb < 0 {
		return 0
	}
	return 1.0 - circularHourDistance(ha, hb)/12.0
}

// circularHourDistance is min(|h1-h2|, 24-|h1-h2|).
func circularHourDistance(h1, h2 int) float64 {
	d := math.Abs(float64(h1 - h2))
	if 24-d < d {
		d = 24 - d
	}
	return d
}
