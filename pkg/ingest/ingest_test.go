package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/rpc"
	"github.com/sidewallet-engine/pkg/store"
)

// fakeFetcher serves canned signatures and transactions, counting calls.
type fakeFetcher struct {
	sigs    map[string][]rpc.SignatureInfo
	txs     map[string]*rpc.ParsedTransaction
	failing map[string]error

	mu        sync.Mutex
	txFetches int
}

func (f *fakeFetcher) GetSignaturesForAddress(_ context.Context, address string, limit int) ([]rpc.SignatureInfo, error) {
	sigs := f.sigs[address]
	if limit > 0 && len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

func (f *fakeFetcher) GetTransaction(_ context.Context, signature string) (*rpc.ParsedTransaction, error) {
	f.mu.Lock()
	f.txFetches++
	f.mu.Unlock()
	if err, ok := f.failing[signature]; ok {
		return nil, err
	}
	tx, ok := f.txs[signature]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s not found", rpc.ErrPermanent, signature)
	}
	return tx, nil
}

func nativeTransferTx(sig string, slot, blockTime int64, from, to string, lamports uint64) *rpc.ParsedTransaction {
	bt := blockTime
	tx := &rpc.ParsedTransaction{Slot: slot, BlockTime: &bt, Meta: &rpc.TxMeta{Fee: 5000}}
	tx.Transaction.Signatures = []string{sig}
	tx.Transaction.Message.Instructions = []rpc.ParsedInstruction{{
		Program:   "system",
		ProgramID: systemProgramID,
		Parsed: json.RawMessage(fmt.Sprintf(
			`{"type":"transfer","info":{"source":"%s","destination":"%s","lamports":%d}}`, from, to, lamports)),
	}}
	return tx
}

func testConfig() *config.Config {
	return &config.Config{
		KnownExchanges:    map[string]string{},
		IngestConcurrency: 2,
		SignatureLimit:    100,
	}
}

func TestIngestWallet(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := &fakeFetcher{
		sigs: map[string][]rpc.SignatureInfo{
			"A": {
				{Signature: "s1", Slot: 10},
				{Signature: "s2", Slot: 11},
			},
		},
		txs: map[string]*rpc.ParsedTransaction{
			"s1": nativeTransferTx("s1", 10, 1000, "A", "B", 1_000_000_000),
			"s2": nativeTransferTx("s2", 11, 1100, "A", "B", 500_000_000),
		},
	}
	p := NewPipeline(testConfig(), st, fetcher)

	stats, err := p.IngestWallet(context.Background(), "A", 50)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NewTransactions != 2 || stats.Events != 2 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}

	rel, err := st.GetRelationship(context.Background(), "A", "B")
	if err != nil || rel == nil {
		t.Fatalf("relationship missing: %v", err)
	}
	if rel.TxCount != 2 || rel.NativeTotal != 1.5 {
		t.Errorf("relationship = %+v, want 2 tx / 1.5 native", rel)
	}
	wallet, _ := st.GetWallet(context.Background(), "B")
	if wallet == nil {
		t.Error("endpoint wallet B not recorded")
	}
}

func TestIngestWalletIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := &fakeFetcher{
		sigs: map[string][]rpc.SignatureInfo{
			"A": {{Signature: "s1", Slot: 10}, {Signature: "s2", Slot: 11}},
		},
		txs: map[string]*rpc.ParsedTransaction{
			"s1": nativeTransferTx("s1", 10, 1000, "A", "B", 1_000_000_000),
			"s2": nativeTransferTx("s2", 11, 1100, "B", "A", 250_000_000),
		},
	}
	p := NewPipeline(testConfig(), st, fetcher)
	ctx := context.Background()

	if _, err := p.IngestWallet(ctx, "A", 50); err != nil {
		t.Fatal(err)
	}
	eventsAfterFirst, _ := st.CountTransferEvents(ctx)
	relAB1, _ := st.GetRelationship(ctx, "A", "B")
	relBA1, _ := st.GetRelationship(ctx, "B", "A")

	stats, err := p.IngestWallet(ctx, "A", 50)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NewTransactions != 0 {
		t.Errorf("second run inserted %d transactions, want 0", stats.NewTransactions)
	}

	eventsAfterSecond, _ := st.CountTransferEvents(ctx)
	if eventsAfterFirst != eventsAfterSecond {
		t.Errorf("event count changed on re-ingestion: %d -> %d", eventsAfterFirst, eventsAfterSecond)
	}
	relAB2, _ := st.GetRelationship(ctx, "A", "B")
	relBA2, _ := st.GetRelationship(ctx, "B", "A")
	if relAB1.TxCount != relAB2.TxCount || relBA1.TxCount != relBA2.TxCount {
		t.Errorf("relationship tx counts changed on re-ingestion: %d/%d -> %d/%d",
			relAB1.TxCount, relBA1.TxCount, relAB2.TxCount, relBA2.TxCount)
	}
	// Already-stored signatures are not refetched.
	if fetcher.txFetches != 2 {
		t.Errorf("tx fetches = %d, want 2 (second run should skip stored signatures)", fetcher.txFetches)
	}
}

func TestIngestWalletSkipsFailingSignatures(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := &fakeFetcher{
		sigs: map[string][]rpc.SignatureInfo{
			"A": {
				{Signature: "good", Slot: 10},
				{Signature: "bad", Slot: 11},
			},
		},
		txs: map[string]*rpc.ParsedTransaction{
			"good": nativeTransferTx("good", 10, 1000, "A", "B", 1_000_000_000),
		},
		failing: map[string]error{
			"bad": fmt.Errorf("%w: http 502", rpc.ErrTransient),
		},
	}
	p := NewPipeline(testConfig(), st, fetcher)

	stats, err := p.IngestWallet(context.Background(), "A", 50)
	if err != nil {
		t.Fatalf("pipeline must absorb per-signature failures, got %v", err)
	}
	if stats.NewTransactions != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 1 ingested / 1 skipped", stats)
	}
}

func TestIngestWalletIgnoresFailedTransactions(t *testing.T) {
	st := store.NewMemoryStore()
	fetcher := &fakeFetcher{
		sigs: map[string][]rpc.SignatureInfo{
			"A": {{Signature: "failed", Slot: 10, Err: map[string]interface{}{"InstructionError": []interface{}{}}}},
		},
	}
	p := NewPipeline(testConfig(), st, fetcher)

	stats, err := p.IngestWallet(context.Background(), "A", 50)
	if err != nil {
		t.Fatal(err)
	}
	if stats.NewTransactions != 0 || fetcher.txFetches != 0 {
		t.Errorf("failed signatures must not be fetched: stats=%+v fetches=%d", stats, fetcher.txFetches)
	}
}
