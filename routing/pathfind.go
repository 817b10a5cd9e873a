package routing

import (
	"container/heap"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
)

// RouteConstraints bounds a route search, per spec.md 4.4's "Consult
// NetworkGraph for a route honoring max_fee_amount, final_cltv_delta,
// max_parts."
type RouteConstraints struct {
	MaxFeeAmount   fbtypes.Amount
	FinalCltvDelta uint16
	// CltvPenaltyPerBlock is not read by FindRoute: edge cost is the fee
	// alone, and locktime only breaks ties between equal-fee entries.
	CltvPenaltyPerBlock fbtypes.Amount
	// ExcludeChannels prunes specific channels from the search before
	// they're ever relaxed, letting a retried payment route around a hop
	// that just failed it instead of finding the same dead end again.
	ExcludeChannels map[fbtypes.Hash256]bool
}

// Hop is one leg of a found route: the channel to forward over and this
// hop's own fee and CLTV delta (not cumulative; callers sum them).
type Hop struct {
	ChannelID       fbtypes.Hash256
	NextNode        fbtypes.Pubkey
	FeeAmount       fbtypes.Amount
	CltvExpiryDelta uint16
}

// entry is one node's state during the search: the best known cost to
// reach it from the source, and the edge used to reach it (for path
// reconstruction).
type entry struct {
	node       string
	cost       fbtypes.Amount
	cltv       uint64
	viaChannel fbtypes.Hash256
	viaHop     Hop
	prevNode   string
	index      int
}

// priorityQueue orders entries by (cost, cltv, channel id) ascending,
// implementing spec.md 4.2's tie-break: "lower fee, then lower locktime,
// then lexicographically smaller channel id."
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if cmp := a.cost.Cmp(b.cost); cmp != 0 {
		return cmp < 0
	}
	if a.cltv != b.cltv {
		return a.cltv < b.cltv
	}
	return a.viaChannel.Less(b.viaChannel)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*pq = old[:n-1]
	return e
}

// maxHops bounds the search so a route never spans an unreasonable number
// of intermediate channels, the "bounded" half of "bounded Dijkstra."
const maxHops = 20

// FindRoute searches the graph for a path from source to target carrying
// amount while satisfying constraints, returning the ordered hops the
// sender must set up TLCs over. Edges that are disabled, lack a published
// update, carry less than the update's HtlcMinimum, or have too little
// capacity are pruned before being relaxed; no bound on the total CLTV
// delta is applied.
func (g *Graph) FindRoute(source, target fbtypes.Pubkey, amount fbtypes.Amount, constraints RouteConstraints) ([]Hop, error) {
	if amount.IsZero() {
		return nil, ferrors.New(ferrors.CodeAmountBelowMin, "payment amount must be positive")
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	srcKey := source.String()
	dstKey := target.String()

	if srcKey == dstKey {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "source and target are the same node")
	}
	if _, ok := g.nodes[srcKey]; !ok {
		return nil, ferrors.New(ferrors.CodeNoRoute, "source node %s unknown", source)
	}
	if _, ok := g.nodes[dstKey]; !ok {
		return nil, ferrors.New(ferrors.CodeNoRoute, "target node %s unknown", target)
	}

	best := map[string]*entry{
		srcKey: {node: srcKey, cost: fbtypes.NewAmount(0), cltv: uint64(constraints.FinalCltvDelta)},
	}

	pq := &priorityQueue{best[srcKey]}
	heap.Init(pq)

	hopCount := map[string]int{srcKey: 0}
	visited := make(map[string]bool)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*entry)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		if cur.node == dstKey {
			break
		}
		if hopCount[cur.node] >= maxHops {
			continue
		}

		for _, channelID := range g.adjacency[cur.node] {
			if constraints.ExcludeChannels[channelID] {
				continue
			}
			c := g.channels[channelID]
			hop, nextNode, ok := g.relax(c, cur.node, amount)
			if !ok {
				continue
			}

			newCost := cur.cost.Add(hop.FeeAmount)
			newCltv := cur.cltv + uint64(hop.CltvExpiryDelta)

			if newCost.GreaterThan(constraints.MaxFeeAmount) && !constraints.MaxFeeAmount.IsZero() {
				continue
			}

			existing, seen := best[nextNode]
			candidate := &entry{
				node: nextNode, cost: newCost, cltv: newCltv,
				viaChannel: channelID, viaHop: hop, prevNode: cur.node,
			}
			if seen && !less(candidate, existing) {
				continue
			}

			best[nextNode] = candidate
			hopCount[nextNode] = hopCount[cur.node] + 1
			heap.Push(pq, candidate)
		}
	}

	dst, ok := best[dstKey]
	if !ok || !visited[dstKey] {
		return nil, ferrors.New(ferrors.CodeNoRoute, "no route from %s to %s", source, target)
	}

	// Walk the predecessor chain back to source, then reverse.
	var hops []Hop
	for n := dst; n.node != srcKey; n = best[n.prevNode] {
		hops = append(hops, n.viaHop)
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops, nil
}

func less(a, b *entry) bool {
	if cmp := a.cost.Cmp(b.cost); cmp != 0 {
		return cmp < 0
	}
	if a.cltv != b.cltv {
		return a.cltv < b.cltv
	}
	return a.viaChannel.Less(b.viaChannel)
}

// relax computes the hop crossing channel c away from fromNode, returning
// false if the edge must be pruned (disabled, no update published yet,
// amount below the update's HtlcMinimum, or insufficient capacity for
// amount).
func (g *Graph) relax(c *ChannelInfo, fromNode string, amount fbtypes.Amount) (Hop, string, bool) {
	var update *ChannelUpdate
	var nextNode fbtypes.Pubkey

	switch fromNode {
	case c.Node1.String():
		update = c.Update1
		nextNode = c.Node2
	case c.Node2.String():
		update = c.Update2
		nextNode = c.Node1
	default:
		return Hop{}, "", false
	}

	if update == nil || update.Disabled {
		return Hop{}, "", false
	}
	if amount.LessThan(update.HtlcMinimum) {
		return Hop{}, "", false
	}
	if amount.GreaterThan(c.Capacity) {
		return Hop{}, "", false
	}

	return Hop{
		ChannelID:       c.ChannelID,
		NextNode:        nextNode,
		FeeAmount:       update.fee(amount),
		CltvExpiryDelta: update.CltvExpiryDelta,
	}, nextNode.String(), true
}
