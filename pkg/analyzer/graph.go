package analyzer

import (
	"context"
	"sort"

	"github.com/sidewallet-engine/pkg/store"
)

// expandGraph runs a bounded BFS over wallet_relationships rooted at
// target. Each discovered wallet is tagged with the minimum observed depth
// and the aggregated edge used to reach it first. Self-loops and known
// exchanges are excluded (exchanges are the CEX-hop path's business) and
// not expanded through.
func (e *Engine) expandGraph(ctx context.Context, target string, maxDepth, maxResults int) ([]rawCandidate, error) {
	type queued struct {
		address string
		depth   int
	}
	visited := map[string]bool{target: true}
	found := map[string]*rawCandidate{}
	frontier := []queued{{target, 0}}

	for len(frontier) > 0 {
		next := []queued{}
		for _, q := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if q.depth >= maxDepth {
				continue
			}
			neighbors, err := e.store.GetNeighbors(ctx, q.address, store.DirectionBoth, e.neighborLimit)
			if err != nil {
				return nil, err
			}
			// Tie-break within a depth: higher tx count, then higher native total.
			sort.SliceStable(neighbors, func(i, j int) bool {
				if neighbors[i].Rel.TxCount != neighbors[j].Rel.TxCount {
					return neighbors[i].Rel.TxCount > neighbors[j].Rel.TxCount
				}
				return neighbors[i].Rel.NativeTotal > neighbors[j].Rel.NativeTotal
			})
			for _, n := range neighbors {
				if n.Address == q.address || n.Address == target {
					continue
				}
				depth := q.depth + 1
				if existing, ok := found[n.Address]; ok {
					// Already discovered at this or a shallower depth; only
					// merge the direction when rediscovered at equal depth.
					if existing.Depth == depth && existing.Direction != n.Direction {
						existing.Direction = store.DirectionBoth
					}
					continue
				}
				if visited[n.Address] {
					continue
				}
				visited[n.Address] = true
				if _, isExchange := e.cfg.IsKnownExchange(n.Address); isExchange {
					continue // handled by the CEX-hop path, not expanded through
				}
				found[n.Address] = &rawCandidate{
					Address:   n.Address,
					Depth:     depth,
					Direction: n.Direction,
					FirstEdge: n.Rel,
					LastSeen:  n.Rel.LastSeen,
				}
				next = append(next, queued{n.Address, depth})
				if maxResults > 0 && len(found) >= maxResults {
					return flattenCandidates(found), nil
				}
			}
		}
		frontier = next
	}
	return flattenCandidates(found), nil
}

func flattenCandidates(found map[string]*rawCandidate) []rawCandidate {
	out := make([]rawCandidate, 0, len(found))
	for _, rc := range found {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if out[i].FirstEdge.TxCount != out[j].FirstEdge.TxCount {
			return out[i].FirstEdge.TxCount > out[j].FirstEdge.TxCount
		}
		if out[i].FirstEdge.NativeTotal != out[j].FirstEdge.NativeTotal {
			return out[i].FirstEdge.NativeTotal > out[j].FirstEdge.NativeTotal
		}
		return out[i].Address < out[j].Address
	})
	return out
}
