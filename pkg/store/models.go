package store

// Wallet is a directory row. Created on first observation, never removed.
type Wallet struct {
	Address   string `json:"address"`
	Exchange  string `json:"exchange"` // CEX label ("binance", ...) or empty
	Tags      string `json:"tags"`     // JSON array
	FirstSeen int64  `json:"first_seen"`
}

// Transaction is immutable once stored; identified by signature.
type Transaction struct {
	Signature  string `json:"signature"`
	Slot       int64  `json:"slot"`
	BlockTime  int64  `json:"block_time"`
	Success    bool   `json:"success"`
	Fee        int64  `json:"fee"`
	EventCount int    `json:"event_count"`
}

const (
	KindNative = "native"
	KindToken  = "token"
)

// TransferEvent is one transfer inside a transaction, keyed by
// (signature, event_index). event_index is stable across re-ingestion.
type TransferEvent struct {
	Signature        string  `json:"signature"`
	EventIndex       int     `json:"event_index"`
	Slot             int64   `json:"slot"`
	BlockTime        int64   `json:"block_time"`
	Kind             string  `json:"kind"` // "native" or "token"
	InstructionIndex int     `json:"instruction_index"`
	InnerIndex       int     `json:"inner_index"` // -1 for top-level instructions
	TransferType     string  `json:"transfer_type"`
	FromWallet       string  `json:"from_wallet"`
	ToWallet         string  `json:"to_wallet"`
	Mint             string  `json:"mint"` // empty for native
	AmountRaw        uint64  `json:"amount_raw"`
	Amount           float64 `json:"amount"` // scaled (SOL or ui token amount)
	FromTokenAccount string  `json:"from_token_account"`
	ToTokenAccount   string  `json:"to_token_account"`
}

// WalletRelationship is the aggregated edge for a (from, to) pair.
type WalletRelationship struct {
	FromWallet  string  `json:"from_wallet"`
	ToWallet    string  `json:"to_wallet"`
	NativeTotal float64 `json:"native_amount_total"`
	TokenTotal  float64 `json:"token_amount_total"`
	TxCount     int64   `json:"transaction_count"`
	FirstSeen   int64   `json:"first_seen"`
	LastSeen    int64   `json:"last_seen"`
}

type Direction string

const (
	DirectionIn   Direction = "inbound"
	DirectionOut  Direction = "outbound"
	DirectionBoth Direction = "both"
)

// Neighbor is an aggregated edge as seen from a query wallet.
type Neighbor struct {
	Address   string             `json:"address"`
	Direction Direction          `json:"direction"`
	Rel       WalletRelationship `json:"relationship"`
}

// SharedSender is an address that funded both sides of a pair.
type SharedSender struct {
	Address      string `json:"address"`
	EventsToA    int    `json:"events_to_a"`
	EventsToB    int    `json:"events_to_b"`
	LastSeenUnix int64  `json:"last_seen"`
}

// Counterparty is an outbound destination with aggregate counts.
type Counterparty struct {
	Address      string `json:"address"`
	EventCount   int    `json:"event_count"`
	LastSeenUnix int64  `json:"last_seen"`
}

// BehavioralProfile summarizes a wallet's activity in a window.
type BehavioralProfile struct {
	TxCount        int     `json:"tx_count"`
	AvgNativePerTx float64 `json:"avg_native_per_tx"`
	TxPerDay       float64 `json:"tx_per_day"`
	HourHistogram  [24]int `json:"hour_histogram"`
}

// ModeHour returns the most active UTC hour, or -1 when the histogram is empty.
func (p BehavioralProfile) ModeHour() int {
	best, bestCount := -1, 0
	for h, c := range p.HourHistogram {
		if c > bestCount {
			best, bestCount = h, c
		}
	}
	return best
}

// TemporalOverlap measures co-activity of two wallets.
type TemporalOverlap struct {
	SameSlotCount int     `json:"same_slot_count"`
	OverlapRatio  float64 `json:"overlap_ratio"`
}
