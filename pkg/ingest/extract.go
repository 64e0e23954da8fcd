package ingest

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/sidewallet-engine/pkg/rpc"
	"github.com/sidewallet-engine/pkg/store"
)

var (
	systemProgramID = solana.SystemProgramID.String()
	tokenProgramID  = solana.TokenProgramID.String()
)

const lamportsPerSol = 1e9

// parsedPayload is the common shape of a jsonParsed instruction payload.
type parsedPayload struct {
	Type string `json:"type"`
	Info struct {
		// system program
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Lamports    uint64 `json:"lamports"`
		// token program
		Authority          string `json:"authority"`
		MultisigAuthority  string `json:"multisigAuthority"`
		Mint               string `json:"mint"`
		Amount             string `json:"amount"`
		TokenAmount        struct {
			Amount   string   `json:"amount"`
			Decimals int      `json:"decimals"`
			UIAmount *float64 `json:"uiAmount"`
		} `json:"tokenAmount"`
	} `json:"info"`
}

// tokenAccountInfo resolves a token account pubkey to its owner wallet and
// mint, built from the transaction's pre/post token balances.
type tokenAccountInfo struct {
	owner    string
	mint     string
	decimals int
}

// ExtractTransfers walks a parsed transaction in pre-order over
// (outer instruction, inner instruction) positions and emits one
// TransferEvent per native or fungible-token transfer. The walk is
// deterministic, so event_index is identical across re-ingestion.
func ExtractTransfers(tx *rpc.ParsedTransaction) []store.TransferEvent {
	if tx == nil || tx.Meta == nil {
		return nil
	}
	sig := tx.Signature()
	var blockTime int64
	if tx.BlockTime != nil {
		blockTime = *tx.BlockTime
	}

	accounts := tokenAccountMap(tx)

	inner := map[int][]rpc.ParsedInstruction{}
	for _, set := range tx.Meta.InnerInstructions {
		inner[set.Index] = set.Instructions
	}

	var events []store.TransferEvent
	eventIndex := 0
	emit := func(ins rpc.ParsedInstruction, outerIdx, innerIdx int) {
		ev, ok := decodeTransfer(ins, accounts)
		if !ok {
			return
		}
		ev.Signature = sig
		ev.EventIndex = eventIndex
		ev.Slot = tx.Slot
		ev.BlockTime = blockTime
		ev.InstructionIndex = outerIdx
		ev.InnerIndex = innerIdx
		events = append(events, ev)
		eventIndex++
	}

	for i, ins := range tx.Transaction.Message.Instructions {
		emit(ins, i, -1)
		for j, innerIns := range inner[i] {
			emit(innerIns, i, j)
		}
	}
	return events
}

// decodeTransfer turns one jsonParsed instruction into a transfer event.
// Returns false for anything that is not a system or token transfer.
func decodeTransfer(ins rpc.ParsedInstruction, accounts map[string]tokenAccountInfo) (store.TransferEvent, bool) {
	var ev store.TransferEvent
	if len(ins.Parsed) == 0 {
		return ev, false
	}
	var p parsedPayload
	if err := json.Unmarshal(ins.Parsed, &p); err != nil {
		return ev, false
	}

	switch ins.ProgramID {
	case systemProgramID:
		if p.Type != "transfer" && p.Type != "transferWithSeed" {
			return ev, false
		}
		if p.Info.Source == "" && p.Info.Destination == "" {
			return ev, false
		}
		ev.Kind = store.KindNative
		ev.TransferType = p.Type
		ev.FromWallet = p.Info.Source
		ev.ToWallet = p.Info.Destination
		ev.AmountRaw = p.Info.Lamports
		ev.Amount = float64(p.Info.Lamports) / lamportsPerSol
		return ev, true

	case tokenProgramID:
		if p.Type != "transfer" && p.Type != "transferChecked" {
			return ev, false
		}
		ev.Kind = store.KindToken
		ev.TransferType = p.Type
		ev.FromTokenAccount = p.Info.Source
		ev.ToTokenAccount = p.Info.Destination

		from := p.Info.Authority
		if from == "" {
			from = p.Info.MultisigAuthority
		}
		srcInfo := accounts[p.Info.Source]
		if from == "" {
			from = srcInfo.owner
		}
		dstInfo := accounts[p.Info.Destination]

		ev.FromWallet = from
		ev.ToWallet = dstInfo.owner
		ev.Mint = p.Info.Mint
		if ev.Mint == "" {
			ev.Mint = srcInfo.mint
		}
		if ev.Mint == "" {
			ev.Mint = dstInfo.mint
		}

		if p.Type == "transferChecked" {
			ev.AmountRaw = parseUint(p.Info.TokenAmount.Amount)
			if p.Info.TokenAmount.UIAmount != nil {
				ev.Amount = *p.Info.TokenAmount.UIAmount
			} else {
				ev.Amount = scaleRaw(ev.AmountRaw, p.Info.TokenAmount.Decimals)
			}
		} else {
			ev.AmountRaw = parseUint(p.Info.Amount)
			decimals := srcInfo.decimals
			if decimals == 0 {
				decimals = dstInfo.decimals
			}
			ev.Amount = scaleRaw(ev.AmountRaw, decimals)
		}
		if ev.FromWallet == "" && ev.ToWallet == "" {
			return ev, false
		}
		return ev, true
	}
	return ev, false
}

// tokenAccountMap indexes pre/post token balances by token account pubkey.
func tokenAccountMap(tx *rpc.ParsedTransaction) map[string]tokenAccountInfo {
	keys := tx.Transaction.Message.AccountKeys
	out := map[string]tokenAccountInfo{}
	add := func(balances []rpc.TokenBalance) {
		for _, b := range balances {
			if b.AccountIndex < 0 || b.AccountIndex >= len(keys) {
				continue
			}
			pubkey := keys[b.AccountIndex].Pubkey
			out[pubkey] = tokenAccountInfo{
				owner:    b.Owner,
				mint:     b.Mint,
				decimals: b.UITokenAmount.Decimals,
			}
		}
	}
	add(tx.Meta.PreTokenBalances)
	add(tx.Meta.PostTokenBalances)
	return out
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func scaleRaw(raw uint64, decimals int) float64 {
	if decimals <= 0 {
		return float64(raw)
	}
	return float64(raw) / math.Pow(10, float64(decimals))
}
