package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sidewallet-engine/pkg/store"
)

// cexHopCandidates follows outbound transfers from the target into known
// exchange hot wallets and collects wallets that received withdrawals from
// the same exchange shortly after. Exchanges pool funds, so these are
// probabilistic leads: each candidate is flagged via_cex and its score is
// capped at the configured ceiling regardless of time proximity.
func (e *Engine) cexHopCandidates(ctx context.Context, target string, opts Options, since int64) []Candidate {
	neighbors, err := e.store.GetNeighbors(ctx, target, store.DirectionOut, e.neighborLimit)
	if err != nil {
		log.Warn().Err(err).Msg("cex-hop neighbor query failed")
		return nil
	}

	window := int64(e.cfg.CexHopWindowSeconds)
	var out []Candidate
	for _, n := range neighbors {
		label, isExchange := e.cfg.IsKnownExchange(n.Address)
		if !isExchange {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out
		}
		exchange := n.Address
		t0 := n.Rel.FirstSeen

		// Pull the exchange's recent outbound flow into the store so the
		// counterparty query below has something to chew on.
		if e.pipeline != nil && opts.CexBootstrapLimit > 0 {
			if _, err := e.pipeline.IngestWallet(ctx, exchange, opts.CexBootstrapLimit); err != nil {
				log.Warn().Err(err).Str("exchange", abbrev(exchange)).Msg("cex bootstrap failed")
			}
		}

		recipients, err := e.store.GetTopCounterparties(ctx, exchange, maxInt64(t0, since), 100)
		if err != nil {
			log.Warn().Err(err).Str("exchange", abbrev(exchange)).Msg("cex-hop recipient query failed")
			continue
		}
		for _, r := range recipients {
			if r.Address == target || r.Address == exchange {
				continue
			}
			if _, alsoExchange := e.cfg.IsKnownExchange(r.Address); alsoExchange {
				continue
			}
			t1 := r.LastSeenUnix
			dt := t1 - t0
			if dt < 0 || dt > window {
				continue
			}
			// Decay toward zero across the window; never above the cap.
			sc := e.cfg.CexCap * (1.0 - float64(dt)/float64(window))
			if sc <= 0 {
				continue
			}
			out = append(out, Candidate{
				Address:   r.Address,
				Score:     clamp01(sc),
				Depth:     2,
				Direction: store.DirectionOut,
				LastSeen:  t1,
				ViaCex:    true,
				CexVia:    exchange,
				Reasons: []string{fmt.Sprintf(
					"Possible CEX hop via %s (%s): %s→%s (%s), %s→%s (%s); Δt = %s",
					abbrev(exchange), label,
					abbrev(target), abbrev(exchange), time.Unix(t0, 0).UTC().Format(time.RFC3339),
					abbrev(exchange), abbrev(r.Address), time.Unix(t1, 0).UTC().Format(time.RFC3339),
					(time.Duration(dt) * time.Second).String())},
			})
		}
	}
	return out
}

// mergeCexCandidates folds CEX-hop leads into the organic ranked list.
// A wallet already present keeps its organic score and only gains the hop
// evidence; new leads enter with their capped score.
func mergeCexCandidates(organic, cex []Candidate, threshold float64) []Candidate {
	byAddr := map[string]int{}
	for i, c := range organic {
		byAddr[c.Address] = i
	}
	for _, c := range cex {
		if i, ok := byAddr[c.Address]; ok {
			organic[i].CexVia = c.CexVia
			organic[i].Reasons = append(organic[i].Reasons, c.Reasons...)
			continue
		}
		if c.Score < threshold {
			continue
		}
		byAddr[c.Address] = len(organic)
		organic = append(organic, c)
	}
	return organic
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
