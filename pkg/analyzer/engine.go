package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"

	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/ingest"
	"github.com/sidewallet-engine/pkg/store"
)

// Engine answers side-wallet queries: who else is probably operated by the
// owner of a target wallet. It fuses graph reachability with behavioral
// and temporal statistics over the event store, optionally bootstrapping
// history on demand.
type Engine struct {
	cfg      *config.Config
	store    store.EventStore
	pipeline *ingest.Pipeline

	neighborLimit int
	now           func() time.Time

	// validateAddress is swapped in tests so fixture names like "A" pass.
	validateAddress func(string) error
}

func NewEngine(cfg *config.Config, st store.EventStore, pipeline *ingest.Pipeline) *Engine {
	return &Engine{
		cfg:             cfg,
		store:           st,
		pipeline:        pipeline,
		neighborLimit:   200,
		now:             time.Now,
		validateAddress: validateBase58Address,
	}
}

func validateBase58Address(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	return nil
}

// ComputeSideWallets runs the full pipeline: optional bootstrap ingestion,
// graph expansion, signal extraction, scoring and CEX-hop augmentation.
// The request carries the configured deadline; on expiry it aborts with
// context.DeadlineExceeded and returns no partial results.
func (e *Engine) ComputeSideWallets(ctx context.Context, address string, opts Options) (*Result, error) {
	if err := e.validateAddress(address); err != nil {
		return nil, err
	}
	weights, boosts, err := e.resolveScoring(opts)
	if err != nil {
		return nil, err
	}
	opts = e.applyDefaults(opts)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Deadline())
	defer cancel()

	result := &Result{Target: address, Candidates: []Candidate{}}

	if opts.Bootstrap && e.pipeline != nil {
		stats, err := e.pipeline.IngestWallet(ctx, address, opts.BootstrapLimit)
		switch {
		case err == nil:
			result.Bootstrap = &stats
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, store.ErrUnavailable):
			return nil, err
		default:
			// Upstream RPC trouble: score whatever history we already hold.
			log.Warn().Err(err).Str("addr", abbrev(address)).Msg("bootstrap ingestion failed, scoring stored history")
		}
	}

	since := e.now().Unix() - int64(opts.LookbackDays)*86400

	raw, err := e.expandGraph(ctx, address, opts.Depth, opts.Limit*4)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	candidates := make([]Candidate, 0, len(raw))
	for _, rc := range raw {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := &features{}
		graphSignal(rc, f)
		e.sharedFundersSignal(ctx, address, rc.Address, since, f)
		e.sharedCounterpartiesSignal(ctx, address, rc.Address, since, f)
		e.behavioralSignal(ctx, address, rc.Address, since, f)
		e.temporalSignal(ctx, address, rc.Address, since, f)

		candidates = append(candidates, Candidate{
			Address:              rc.Address,
			Score:                score(weights, boosts, f),
			Depth:                rc.Depth,
			Direction:            rc.Direction,
			TxCount:              rc.FirstEdge.TxCount,
			TotalNative:          rc.FirstEdge.NativeTotal,
			TotalToken:           rc.FirstEdge.TokenTotal,
			FirstSeen:            rc.FirstEdge.FirstSeen,
			LastSeen:             rc.FirstEdge.LastSeen,
			SharedFunders:        f.sharedFunders,
			SharedCounterparties: f.sharedCounterparties,
			BehavioralSimilarity: f.f4,
			TemporalOverlapRatio: f.overlapRatio,
			SameSlotCount:        f.sameSlotCount,
			Reasons:              f.reasons,
		})
	}

	ranked := rankCandidates(candidates, opts.Threshold, opts.Limit)

	if opts.CexHops == nil || *opts.CexHops {
		cex := e.cexHopCandidates(ctx, address, opts, since)
		ranked = rankCandidates(mergeCexCandidates(ranked, cex, opts.Threshold), opts.Threshold, opts.Limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Candidates = ranked
	log.Info().Str("addr", abbrev(address)).Int("candidates", len(ranked)).Msg("computed side wallets")
	return result, nil
}

// applyDefaults fills omitted options and clamps the rest to safe ranges.
func (e *Engine) applyDefaults(opts Options) Options {
	d := e.cfg.Defaults
	if opts.Depth <= 0 {
		opts.Depth = d.Depth
	}
	if opts.Depth > e.cfg.MaxDepth {
		opts.Depth = e.cfg.MaxDepth
	}
	if opts.Threshold <= 0 {
		opts.Threshold = d.Threshold
	}
	if opts.Threshold > 1 {
		opts.Threshold = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = d.Limit
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = d.LookbackDays
	}
	if opts.BootstrapLimit <= 0 {
		opts.BootstrapLimit = e.cfg.SignatureLimit
	}
	if opts.CexBootstrapLimit < 0 {
		opts.CexBootstrapLimit = 0
	} else if opts.CexBootstrapLimit == 0 {
		opts.CexBootstrapLimit = e.cfg.CexBootstrapLimit
	}
	return opts
}

// resolveScoring applies per-request weight and boost overrides when they
// fall inside the allowed ranges, otherwise surfaces a config error.
func (e *Engine) resolveScoring(opts Options) (config.SignalWeights, config.Boosts, error) {
	weights := e.cfg.Weights
	boosts := e.cfg.Boosts
	if opts.Weights != nil {
		w := *opts.Weights
		if math.Abs(w.Sum()-1.0) > 0.001 {
			return weights, boosts, fmt.Errorf("%w: request weights sum to %.3f, want 1.0", config.ErrInvalid, w.Sum())
		}
		for _, v := range []float64{w.Graph, w.SharedFunders, w.SharedCounter, w.Behavioral, w.Temporal} {
			if v < 0 || v > 1 {
				return weights, boosts, fmt.Errorf("%w: request weight %.3f outside [0, 1]", config.ErrInvalid, v)
			}
		}
		weights = w
	}
	if opts.Boosts != nil {
		b := *opts.Boosts
		for _, v := range []float64{b.SameSlot, b.SyncWindows, b.SharedFunders, b.SharedCounter} {
			if v < 0 || v > 0.25 {
				return weights, boosts, fmt.Errorf("%w: request boost %.3f outside [0, 0.25]", config.ErrInvalid, v)
			}
		}
		boosts = b
	}
	return weights, boosts, nil
}
