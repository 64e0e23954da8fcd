package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/rpc"
	"github.com/sidewallet-engine/pkg/store"
)

// Pipeline pulls a wallet's recent history from the chain into the event
// store. Writes are idempotent, so concurrent ingestions of overlapping
// wallets interleave safely and a partial run resumes at the first unseen
// signature next time.
type Pipeline struct {
	store   store.EventStore
	fetcher rpc.Fetcher
	cfg     *config.Config
}

func NewPipeline(cfg *config.Config, st store.EventStore, fetcher rpc.Fetcher) *Pipeline {
	return &Pipeline{store: st, fetcher: fetcher, cfg: cfg}
}

// Stats summarize one ingestion run. NewTransactions counts only newly
// inserted transaction rows, not deduplicated ones.
type Stats struct {
	Address         string `json:"address"`
	Signatures      int    `json:"signatures"`
	NewTransactions int    `json:"new_transactions"`
	Events          int    `json:"events"`
	Skipped         int    `json:"skipped"`
}

// IngestWallet fetches up to sigLimit recent signatures for address and
// persists every native and token transfer found in the transactions not
// already stored. Individual signature failures are logged and skipped;
// the run only fails outright when the signature listing or the store is
// unavailable.
func (p *Pipeline) IngestWallet(ctx context.Context, address string, sigLimit int) (Stats, error) {
	stats := Stats{Address: address}
	if sigLimit <= 0 {
		sigLimit = p.cfg.SignatureLimit
	}

	sigs, err := p.fetcher.GetSignaturesForAddress(ctx, address, sigLimit)
	if err != nil {
		return stats, err
	}
	stats.Signatures = len(sigs)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	concurrency := p.cfg.IngestConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, sig := range sigs {
		sig := sig
		if sig.Err != nil {
			continue // failed transaction, nothing transferred
		}
		g.Go(func() error {
			seen, err := p.store.HasTransaction(gctx, sig.Signature)
			if err != nil {
				return err // store failures are fatal for the run
			}
			if seen {
				return nil
			}
			tx, err := p.fetcher.GetTransaction(gctx, sig.Signature)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Err(err).Str("sig", abbrev(sig.Signature)).Msg("skipping signature")
				mu.Lock()
				stats.Skipped++
				mu.Unlock()
				return nil
			}
			newTx, events, err := p.persistTransaction(gctx, tx)
			if err != nil {
				return err
			}
			mu.Lock()
			if newTx {
				stats.NewTransactions++
			}
			stats.Events += events
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	log.Info().Str("addr", abbrev(address)).Int("sigs", stats.Signatures).
		Int("new_txs", stats.NewTransactions).Int("events", stats.Events).
		Int("skipped", stats.Skipped).Msg("ingested wallet")
	return stats, nil
}

// persistTransaction writes the transaction row, its transfer events and
// the aggregated relationship deltas. All writes are idempotent.
func (p *Pipeline) persistTransaction(ctx context.Context, tx *rpc.ParsedTransaction) (bool, int, error) {
	events := ExtractTransfers(tx)

	var blockTime int64
	if tx.BlockTime != nil {
		blockTime = *tx.BlockTime
	}
	var fee int64
	if tx.Meta != nil {
		fee = tx.Meta.Fee
	}
	newTx, err := p.store.InsertTransaction(ctx, store.Transaction{
		Signature:  tx.Signature(),
		Slot:       tx.Slot,
		BlockTime:  blockTime,
		Success:    tx.Success(),
		Fee:        fee,
		EventCount: len(events),
	})
	if err != nil {
		return false, 0, err
	}

	for _, ev := range events {
		if err := p.store.InsertTransferEvent(ctx, ev); err != nil {
			return newTx, 0, err
		}
		if err := p.upsertEndpoints(ctx, ev); err != nil {
			return newTx, 0, err
		}
		if ev.FromWallet == "" || ev.ToWallet == "" {
			continue
		}
		var nativeDelta, tokenDelta float64
		if ev.Kind == store.KindNative {
			nativeDelta = ev.Amount
		} else {
			tokenDelta = ev.Amount
		}
		if err := p.store.UpsertRelationship(ctx, ev.FromWallet, ev.ToWallet, nativeDelta, tokenDelta, ev.Signature, ev.BlockTime); err != nil {
			return newTx, 0, err
		}
	}
	return newTx, len(events), nil
}

// upsertEndpoints records both endpoint wallets, tagging known exchanges.
func (p *Pipeline) upsertEndpoints(ctx context.Context, ev store.TransferEvent) error {
	for _, addr := range []string{ev.FromWallet, ev.ToWallet} {
		if addr == "" {
			continue
		}
		exchange, _ := p.cfg.IsKnownExchange(addr)
		if err := p.store.UpsertWallet(ctx, addr, exchange, "", ev.BlockTime); err != nil {
			return err
		}
	}
	return nil
}

func abbrev(s string) string {
	if len(s) > 12 {
		return s[:6] + "..." + s[len(s)-4:]
	}
	return s
}
