package analyzer

import (
	"errors"

	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/ingest"
	"github.com/sidewallet-engine/pkg/store"
)

// ErrInvalidAddress is returned synchronously when the target fails
// base58 validation.
var ErrInvalidAddress = errors.New("invalid wallet address")

// Options are the per-request knobs of ComputeSideWallets. Zero values
// fall back to the configured defaults; overrides are clamped to safe
// ranges before use.
type Options struct {
	Depth        int     `json:"depth"`
	Threshold    float64 `json:"threshold"`
	Limit        int     `json:"limit"`
	LookbackDays int     `json:"lookback_days"`

	Bootstrap      bool `json:"bootstrap"`
	BootstrapLimit int  `json:"bootstrap_limit"`

	CexHops           *bool `json:"cex_hops"` // nil means enabled
	CexBootstrapLimit int   `json:"cex_bootstrap_limit"`

	// Optional per-request reweighting. Applied only when valid
	// (weights summing to 1.0 ± 0.001, boosts within [0, 0.25]).
	Weights *config.SignalWeights `json:"weights"`
	Boosts  *config.Boosts        `json:"boosts"`
}

// Candidate is one scored side-wallet. Ephemeral: owned by the request.
type Candidate struct {
	Address   string          `json:"address"`
	Score     float64         `json:"score"`
	Depth     int             `json:"depth"`
	Direction store.Direction `json:"direction"`

	TxCount     int64   `json:"tx_count"`
	TotalNative float64 `json:"total_native"`
	TotalToken  float64 `json:"total_token"`
	FirstSeen   int64   `json:"first_seen_epoch"`
	LastSeen    int64   `json:"last_seen_epoch"`

	SharedFunders        []string `json:"shared_funders"`
	SharedCounterparties []string `json:"shared_counterparties"`
	BehavioralSimilarity float64  `json:"behavioral_similarity"`
	TemporalOverlapRatio float64  `json:"temporal_overlap_ratio"`
	SameSlotCount        int      `json:"same_slot_count"`

	Reasons []string `json:"reasons"`

	ViaCex bool   `json:"via_cex,omitempty"`
	CexVia string `json:"cex_via,omitempty"`
}

// Result is the response of ComputeSideWallets.
type Result struct {
	Target     string        `json:"target"`
	Candidates []Candidate   `json:"candidates"`
	Bootstrap  *ingest.Stats `json:"bootstrap,omitempty"`
}

// rawCandidate is the graph expansion output before scoring.
type rawCandidate struct {
	Address   string
	Depth     int
	Direction store.Direction
	FirstEdge store.WalletRelationship
	LastSeen  int64
}
