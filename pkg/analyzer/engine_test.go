package analyzer

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Weights: config.SignalWeights{Graph: 0.30, SharedFunders: 0.25, SharedCounter: 0.20, Behavioral: 0.15, Temporal: 0.10},
		Boosts:  config.Boosts{SameSlot: 0.08, SyncWindows: 0.10, SharedFunders: 0.06, SharedCounter: 0.03},
		Defaults: config.Defaults{
			Depth: 2, Threshold: 0.10, Limit: 50, LookbackDays: 30,
		},
		CexCap:              0.35,
		MaxDepth:            5,
		DeadlineSeconds:     30,
		CexHopWindowSeconds: 21600,
		KnownExchanges:      map[string]string{"E": "binance"},
		SignatureLimit:      200,
	}
}

func newTestEngine(cfg *config.Config, st store.EventStore) *Engine {
	e := NewEngine(cfg, st, nil)
	e.now = func() time.Time { return time.Unix(1_000_000, 0) }
	e.validateAddress = func(string) error { return nil } // fixture names aren't base58
	return e
}

func seed(t *testing.T, st store.EventStore, sig string, slot, blockTime int64, from, to string, native float64) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.InsertTransaction(ctx, store.Transaction{Signature: sig, Slot: slot, BlockTime: blockTime, Success: true}); err != nil {
		t.Fatal(err)
	}
	ev := store.TransferEvent{
		Signature: sig, EventIndex: 0, Slot: slot, BlockTime: blockTime,
		Kind: store.KindNative, TransferType: "transfer", FromWallet: from, ToWallet: to, Amount: native,
	}
	if err := st.InsertTransferEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertRelationship(ctx, from, to, native, 0, sig, blockTime); err != nil {
		t.Fatal(err)
	}
}

func boolPtr(b bool) *bool { return &b }

// Scenario: one direct transfer A→B yields exactly one depth-1 candidate
// scored on graph connectivity alone.
func TestTwoWalletDirectLink(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "s1", 10, 1000, "A", "B", 1.0)
	e := newTestEngine(testConfig(), st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{Depth: 2, Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %d, want exactly 1", len(result.Candidates))
	}
	c := result.Candidates[0]
	if c.Address != "B" || c.Depth != 1 {
		t.Errorf("candidate = %s depth %d, want B at depth 1", c.Address, c.Depth)
	}
	if math.Abs(c.Score-0.30) > 1e-9 {
		t.Errorf("score = %v, want 0.30 (graph signal only)", c.Score)
	}
	if c.BehavioralSimilarity != 0 {
		t.Errorf("behavioral similarity = %v, want 0 under 10 tx", c.BehavioralSimilarity)
	}
	found := false
	for _, r := range c.Reasons {
		if r == "Link: A ↔ B (1 tx, 1.0 native)" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want the link evidence string", c.Reasons)
	}
}

// Scenario: a common funder F connects A and B and adds the shared-funder boost.
func TestSharedFunder(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "f1", 10, 1000, "F", "A", 2.0)
	seed(t, st, "f2", 20, 1300, "F", "B", 2.0)
	e := newTestEngine(testConfig(), st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{Depth: 2, Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	var b *Candidate
	for i := range result.Candidates {
		if result.Candidates[i].Address == "B" {
			b = &result.Candidates[i]
		}
	}
	if b == nil {
		t.Fatalf("B not in candidates: %+v", result.Candidates)
	}
	if b.Depth != 2 {
		t.Errorf("depth = %d, want 2 (via F)", b.Depth)
	}
	if len(b.SharedFunders) != 1 || b.SharedFunders[0] != "F" {
		t.Errorf("shared funders = %v, want [F]", b.SharedFunders)
	}
	// 0.30/2 + 0.25·(1/3) + 0.06 shared-funder boost
	want := 0.15 + 0.25/3 + 0.06
	if math.Abs(b.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", b.Score, want)
	}
	mentioned := false
	for _, r := range b.Reasons {
		if strings.Contains(r, "F") && strings.Contains(r, "funder") {
			mentioned = true
		}
	}
	if !mentioned {
		t.Errorf("reasons = %v, want funder F mentioned", b.Reasons)
	}
}

// Scenario: five same-slot transfers to third parties earn the full
// same-slot boost plus the synchronized-window boost.
func TestSameSlotActivity(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "d1", 5, 600, "A", "B", 1.0)
	for i := int64(0); i < 5; i++ {
		slot := 100 + i
		bt := 3000 + 600*i
		seed(t, st, "a"+string(rune('0'+i)), slot, bt, "A", "X"+string(rune('0'+i)), 0.1)
		seed(t, st, "b"+string(rune('0'+i)), slot, bt, "B", "Y"+string(rune('0'+i)), 0.1)
	}
	e := newTestEngine(testConfig(), st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{Depth: 2, Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	var b *Candidate
	for i := range result.Candidates {
		if result.Candidates[i].Address == "B" {
			b = &result.Candidates[i]
		}
	}
	if b == nil {
		t.Fatalf("B not in candidates: %+v", result.Candidates)
	}
	if b.SameSlotCount != 5 {
		t.Errorf("same slot count = %d, want 5", b.SameSlotCount)
	}
	if b.TemporalOverlapRatio != 1.0 {
		t.Errorf("overlap ratio = %v, want 1.0", b.TemporalOverlapRatio)
	}
	// 0.30·1 + 0.10·1.0 (f5) + 0.08 same-slot + 0.10·1.0 sync windows
	want := 0.30 + 0.10 + 0.08 + 0.10
	if math.Abs(b.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", b.Score, want)
	}
}

// Scenario: a single weak link disappears under a raised threshold.
func TestBelowThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "s1", 10, 1000, "A", "B", 1.0)
	e := newTestEngine(testConfig(), st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{Depth: 2, Threshold: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("candidates = %+v, want empty under threshold 0.5", result.Candidates)
	}
}

// Scenario: a deposit into a known exchange followed by a withdrawal to W
// produces a capped, flagged CEX-hop candidate — only when the heuristic
// is enabled.
func TestCexHop(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "in", 5, 1000, "A", "E", 10.0)
	seed(t, st, "out", 6, 1060, "E", "W", 9.9)
	cfg := testConfig()
	e := newTestEngine(cfg, st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{Depth: 2, Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("candidates = %+v, want exactly W", result.Candidates)
	}
	w := result.Candidates[0]
	if w.Address != "W" || !w.ViaCex || w.CexVia != "E" {
		t.Errorf("candidate = %+v, want W flagged via E", w)
	}
	if w.Score > cfg.CexCap {
		t.Errorf("score = %v, must not exceed cex cap %v", w.Score, cfg.CexCap)
	}
	hopEvidence := false
	for _, r := range w.Reasons {
		if strings.Contains(r, "Possible CEX hop via E") {
			hopEvidence = true
		}
	}
	if !hopEvidence {
		t.Errorf("reasons = %v, want CEX hop evidence", w.Reasons)
	}

	// Disabled heuristic: the exchange neighbor stays excluded and W vanishes.
	result, err = e.ComputeSideWallets(context.Background(), "A", Options{Depth: 2, Threshold: 0.1, CexHops: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("candidates with cex_hops=false = %+v, want empty", result.Candidates)
	}
}

func TestEmptyWallet(t *testing.T) {
	e := newTestEngine(testConfig(), store.NewMemoryStore())
	result, err := e.ComputeSideWallets(context.Background(), "A", Options{})
	if err != nil {
		t.Fatalf("empty wallet must not error: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("candidates = %+v, want empty", result.Candidates)
	}
}

func TestInvalidAddressRejected(t *testing.T) {
	e := NewEngine(testConfig(), store.NewMemoryStore(), nil)
	_, err := e.ComputeSideWallets(context.Background(), "not-a-base58-address!!", Options{})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestInvalidWeightOverrideRejected(t *testing.T) {
	e := newTestEngine(testConfig(), store.NewMemoryStore())
	_, err := e.ComputeSideWallets(context.Background(), "A", Options{
		Weights: &config.SignalWeights{Graph: 0.9, SharedFunders: 0.9},
	})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("err = %v, want config.ErrInvalid for weights summing to 1.8", err)
	}
}

func TestValidWeightOverrideApplied(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "s1", 10, 1000, "A", "B", 1.0)
	e := newTestEngine(testConfig(), st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{
		Threshold: 0.1,
		Weights:   &config.SignalWeights{Graph: 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 1 || math.Abs(result.Candidates[0].Score-1.0) > 1e-9 {
		t.Errorf("candidates = %+v, want B scored 1.0 under graph-only weights", result.Candidates)
	}
}

func TestDeadlineExceeded(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "s1", 10, 1000, "A", "B", 1.0)
	cfg := testConfig()
	cfg.DeadlineSeconds = 0
	e := newTestEngine(cfg, st)

	_, err := e.ComputeSideWallets(context.Background(), "A", Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded with a zero deadline", err)
	}
}

func TestScoreAndDepthInvariants(t *testing.T) {
	st := store.NewMemoryStore()
	// A small dense neighborhood with a cycle A→B→C→A and a shared funder.
	seed(t, st, "s1", 10, 1000, "A", "B", 1.0)
	seed(t, st, "s2", 11, 1100, "B", "C", 2.0)
	seed(t, st, "s3", 12, 1200, "C", "A", 3.0)
	seed(t, st, "s4", 13, 1300, "F", "A", 1.0)
	seed(t, st, "s5", 14, 1400, "F", "B", 1.0)
	e := newTestEngine(testConfig(), st)

	result, err := e.ComputeSideWallets(context.Background(), "A", Options{Depth: 3, Threshold: 0.0001})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) == 0 {
		t.Fatal("expected candidates in dense neighborhood")
	}
	prev := 2.0
	for _, c := range result.Candidates {
		if c.Score < 0 || c.Score > 1 {
			t.Errorf("%s: score %v outside [0, 1]", c.Address, c.Score)
		}
		if c.Depth < 1 || c.Depth > 3 {
			t.Errorf("%s: depth %d outside [1, 3]", c.Address, c.Depth)
		}
		if c.Score > prev {
			t.Errorf("output not sorted by score: %v after %v", c.Score, prev)
		}
		prev = c.Score
	}
}
