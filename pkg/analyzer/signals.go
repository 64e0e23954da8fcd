package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// features collects everything the scorer needs for one candidate. Signal
// extraction failures degrade the affected feature to zero rather than
// failing the request, so a partially-reachable store still produces a
// ranked list.
type features struct {
	f1, f2, f3, f4, f5 float64

	sharedFunders        []string
	sharedCounterparties []string
	sameSlotCount        int
	overlapRatio         float64

	reasons []string
}

// graphSignal is S1: inverse-depth connectivity.
func graphSignal(rc rawCandidate, f *features) {
	f.f1 = 1.0 / float64(rc.Depth)
	f.reasons = append(f.reasons, fmt.Sprintf("Link: %s ↔ %s (%d tx, %.1f native)",
		rc.FirstEdge.FromWallet, rc.FirstEdge.ToWallet, rc.FirstEdge.TxCount, rc.FirstEdge.NativeTotal))
}

// sharedFundersSignal is S2: addresses that funded both wallets inside
// the lookback window.
func (e *Engine) sharedFundersSignal(ctx context.Context, target, candidate string, since int64, f *features) {
	senders, err := e.store.GetSharedInboundSenders(ctx, target, candidate, since, 25)
	if err != nil {
		log.Warn().Err(err).Str("candidate", abbrev(candidate)).Msg("shared funders query failed, signal degraded")
		return
	}
	if len(senders) == 0 {
		return
	}
	for _, s := range senders {
		f.sharedFunders = append(f.sharedFunders, s.Address)
	}
	f.f2 = capRatio(float64(len(senders))/3.0, 1.0)

	shown := f.sharedFunders
	if len(shown) > 5 {
		shown = shown[:5]
	}
	f.reasons = append(f.reasons, fmt.Sprintf("Shared funders (%d): %s", len(senders), strings.Join(shown, ", ")))
}

// sharedCounterpartiesSignal is S3: common outbound destinations.
func (e *Engine) sharedCounterpartiesSignal(ctx context.Context, target, candidate string, since int64, f *features) {
	a, err := e.store.GetTopCounterparties(ctx, target, since, 50)
	if err != nil {
		log.Warn().Err(err).Str("candidate", abbrev(candidate)).Msg("counterparty query failed, signal degraded")
		return
	}
	b, err := e.store.GetTopCounterparties(ctx, candidate, since, 50)
	if err != nil {
		log.Warn().Err(err).Str("candidate", abbrev(candidate)).Msg("counterparty query failed, signal degraded")
		return
	}
	inA := map[string]bool{}
	for _, cp := range a {
		if cp.Address != candidate {
			inA[cp.Address] = true
		}
	}
	for _, cp := range b {
		if cp.Address != target && inA[cp.Address] {
			f.sharedCounterparties = append(f.sharedCounterparties, cp.Address)
		}
	}
	if len(f.sharedCounterparties) == 0 {
		return
	}
	f.f3 = capRatio(float64(len(f.sharedCounterparties))/5.0, 1.0)

	shown := f.sharedCounterparties
	if len(shown) > 5 {
		shown = shown[:5]
	}
	f.reasons = append(f.reasons, fmt.Sprintf("Shared counterparties (%d): %s",
		len(f.sharedCounterparties), strings.Join(shown, ", ")))
}

func capRatio(v, cap float64) float64 {
	if v > cap {
		return cap
	}
	return v
}

func abbrev(s string) string {
	if len(s) > 12 {
		return s[:6] + "..." + s[len(s)-4:]
	}
	return s
}
