package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in maps. It backs tests and short-lived
// investigative runs where persistence is not wanted.
type MemoryStore struct {
	mu sync.RWMutex

	wallets      map[string]*Wallet
	transactions map[string]*Transaction
	events       map[string]map[int]*TransferEvent // signature -> event_index
	rels         map[edgeKey]*WalletRelationship
	edgeSigs     map[edgeKey]map[string]bool
}

type edgeKey struct{ from, to string }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      map[string]*Wallet{},
		transactions: map[string]*Transaction{},
		events:       map[string]map[int]*TransferEvent{},
		rels:         map[edgeKey]*WalletRelationship{},
		edgeSigs:     map[edgeKey]map[string]bool{},
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) UpsertWallet(_ context.Context, address, exchange, tags string, firstSeen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[address]
	if !ok {
		m.wallets[address] = &Wallet{Address: address, Exchange: exchange, Tags: tags, FirstSeen: firstSeen}
		return nil
	}
	if exchange != "" {
		w.Exchange = exchange
	}
	if tags != "" {
		w.Tags = tags
	}
	if firstSeen > 0 && (w.FirstSeen == 0 || firstSeen < w.FirstSeen) {
		w.FirstSeen = firstSeen
	}
	return nil
}

func (m *MemoryStore) GetWallet(_ context.Context, address string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[address]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, tx Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.Signature]; ok {
		return false, nil
	}
	cp := tx
	m.transactions[tx.Signature] = &cp
	return true, nil
}

func (m *MemoryStore) HasTransaction(_ context.Context, signature string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transactions[signature]
	return ok, nil
}

func (m *MemoryStore) InsertTransferEvent(_ context.Context, ev TransferEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIdx, ok := m.events[ev.Signature]
	if !ok {
		byIdx = map[int]*TransferEvent{}
		m.events[ev.Signature] = byIdx
	}
	if _, exists := byIdx[ev.EventIndex]; exists {
		return nil
	}
	cp := ev
	byIdx[ev.EventIndex] = &cp
	return nil
}

func (m *MemoryStore) UpsertRelationship(_ context.Context, from, to string, nativeDelta, tokenDelta float64, sig string, blockTime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := edgeKey{from, to}
	rel, ok := m.rels[key]
	if !ok {
		rel = &WalletRelationship{FromWallet: from, ToWallet: to, FirstSeen: blockTime, LastSeen: blockTime}
		m.rels[key] = rel
	}
	rel.NativeTotal += nativeDelta
	rel.TokenTotal += tokenDelta
	if blockTime < rel.FirstSeen || rel.FirstSeen == 0 {
		rel.FirstSeen = blockTime
	}
	if blockTime > rel.LastSeen {
		rel.LastSeen = blockTime
	}
	sigs, ok := m.edgeSigs[key]
	if !ok {
		sigs = map[string]bool{}
		m.edgeSigs[key] = sigs
	}
	if !sigs[sig] {
		sigs[sig] = true
		rel.TxCount++
	}
	return nil
}

func (m *MemoryStore) GetRelationship(_ context.Context, from, to string) (*WalletRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rel, ok := m.rels[edgeKey{from, to}]
	if !ok {
		return nil, nil
	}
	cp := *rel
	return &cp, nil
}

func (m *MemoryStore) GetNeighbors(_ context.Context, address string, dir Direction, limit int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Neighbor
	for key, rel := range m.rels {
		if (dir == DirectionOut || dir == DirectionBoth) && key.from == address {
			out = append(out, Neighbor{Address: key.to, Direction: DirectionOut, Rel: *rel})
		}
		if (dir == DirectionIn || dir == DirectionBoth) && key.to == address {
			out = append(out, Neighbor{Address: key.from, Direction: DirectionIn, Rel: *rel})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rel.TxCount != out[j].Rel.TxCount {
			return out[i].Rel.TxCount > out[j].Rel.TxCount
		}
		if out[i].Rel.NativeTotal != out[j].Rel.NativeTotal {
			return out[i].Rel.NativeTotal > out[j].Rel.NativeTotal
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// eventsTouching iterates every stored event involving the wallet after since.
func (m *MemoryStore) eventsTouching(address string, since int64) []*TransferEvent {
	var out []*TransferEvent
	for _, byIdx := range m.events {
		for _, ev := range byIdx {
			if ev.BlockTime < since {
				continue
			}
			if ev.FromWallet == address || ev.ToWallet == address {
				out = append(out, ev)
			}
		}
	}
	return out
}

func (m *MemoryStore) GetSharedInboundSenders(_ context.Context, a, b string, since int64, limit int) ([]SharedSender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type agg struct {
		count    int
		lastSeen int64
	}
	toA, toB := map[string]*agg{}, map[string]*agg{}
	collect := func(dst map[string]*agg, recipient string) {
		for _, byIdx := range m.events {
			for _, ev := range byIdx {
				if ev.ToWallet != recipient || ev.FromWallet == "" || ev.BlockTime < since {
					continue
				}
				s, ok := dst[ev.FromWallet]
				if !ok {
					s = &agg{}
					dst[ev.FromWallet] = s
				}
				s.count++
				if ev.BlockTime > s.lastSeen {
					s.lastSeen = ev.BlockTime
				}
			}
		}
	}
	collect(toA, a)
	collect(toB, b)

	var out []SharedSender
	for sender, sa := range toA {
		if sender == a || sender == b {
			continue
		}
		sb, ok := toB[sender]
		if !ok {
			continue
		}
		last := sa.lastSeen
		if sb.lastSeen > last {
			last = sb.lastSeen
		}
		out = append(out, SharedSender{Address: sender, EventsToA: sa.count, EventsToB: sb.count, LastSeenUnix: last})
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].EventsToA+out[i].EventsToB, out[j].EventsToA+out[j].EventsToB
		if ti != tj {
			return ti > tj
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetTopCounterparties(_ context.Context, address string, since int64, limit int) ([]Counterparty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type agg struct {
		count    int
		lastSeen int64
	}
	dests := map[string]*agg{}
	for _, byIdx := range m.events {
		for _, ev := range byIdx {
			if ev.FromWallet != address || ev.ToWallet == "" || ev.BlockTime < since {
				continue
			}
			d, ok := dests[ev.ToWallet]
			if !ok {
				d = &agg{}
				dests[ev.ToWallet] = d
			}
			d.count++
			if ev.BlockTime > d.lastSeen {
				d.lastSeen = ev.BlockTime
			}
		}
	}
	var out []Counterparty
	for addr, d := range dests {
		out = append(out, Counterparty{Address: addr, EventCount: d.count, LastSeenUnix: d.lastSeen})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventCount != out[j].EventCount {
			return out[i].EventCount > out[j].EventCount
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetBehavioralProfile(_ context.Context, address string, since int64) (*BehavioralProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.eventsTouching(address, since)
	p := &BehavioralProfile{}
	if len(evs) == 0 {
		return p, nil
	}
	sigs := map[string]bool{}
	var nativeSum float64
	minBT, maxBT := evs[0].BlockTime, evs[0].BlockTime
	for _, ev := range evs {
		sigs[ev.Signature] = true
		if ev.Kind == KindNative {
			nativeSum += ev.Amount
		}
		if ev.BlockTime < minBT {
			minBT = ev.BlockTime
		}
		if ev.BlockTime > maxBT {
			maxBT = ev.BlockTime
		}
		p.HourHistogram[time.Unix(ev.BlockTime, 0).UTC().Hour()]++
	}
	p.TxCount = len(sigs)
	p.AvgNativePerTx = nativeSum / float64(p.TxCount)
	spanDays := float64(maxBT-minBT) / 86400.0
	if spanDays < 1 {
		spanDays = 1
	}
	p.TxPerDay = float64(p.TxCount) / spanDays
	return p, nil
}

func (m *MemoryStore) GetTemporalOverlap(_ context.Context, a, b string, since int64, bucketSeconds int64) (*TemporalOverlap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bucketSeconds <= 0 {
		bucketSeconds = 300
	}
	// Transfers between the pair itself trivially co-occur and would make
	// any directly-linked wallet look synchronized; only third-party
	// activity counts.
	pairEvent := func(ev *TransferEvent) bool {
		return (ev.FromWallet == a && ev.ToWallet == b) || (ev.FromWallet == b && ev.ToWallet == a)
	}
	slotsA, slotsB := map[int64]bool{}, map[int64]bool{}
	bucketsA, bucketsB := map[int64]bool{}, map[int64]bool{}
	for _, ev := range m.eventsTouching(a, since) {
		if pairEvent(ev) {
			continue
		}
		slotsA[ev.Slot] = true
		bucketsA[ev.BlockTime/bucketSeconds] = true
	}
	for _, ev := range m.eventsTouching(b, since) {
		if pairEvent(ev) {
			continue
		}
		slotsB[ev.Slot] = true
		bucketsB[ev.BlockTime/bucketSeconds] = true
	}
	ov := &TemporalOverlap{}
	for s := range slotsA {
		if slotsB[s] {
			ov.SameSlotCount++
		}
	}
	shared := 0
	for bk := range bucketsA {
		if bucketsB[bk] {
			shared++
		}
	}
	smaller := len(bucketsA)
	if len(bucketsB) < smaller {
		smaller = len(bucketsB)
	}
	if smaller > 0 {
		ov.OverlapRatio = float64(shared) / float64(smaller)
	}
	return ov, nil
}

func (m *MemoryStore) CountTransferEvents(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, byIdx := range m.events {
		n += int64(len(byIdx))
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var evs int64
	for _, byIdx := range m.events {
		evs += int64(len(byIdx))
	}
	return map[string]int64{
		"wallets":              int64(len(m.wallets)),
		"transactions":         int64(len(m.transactions)),
		"transfer_events":      evs,
		"wallet_relationships": int64(len(m.rels)),
	}, nil
}
