package routing

import (
	"sync"

	"github.com/EthanYuan/fiber/channeldb"
	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
)

// Graph is the in-memory NetworkGraph from spec.md 4.2: every known node
// and channel, kept current from signed announcements and mirrored to
// channeldb.Store so a restart doesn't require re-gossiping the whole
// network. Grounded on channeldb.ChannelGraph's role in the teacher (a
// persisted graph queried by the router), but the teacher kept the graph
// entirely inside bolt buckets queried on demand; here it's held in memory
// for O(1) pathfinding lookups and written through to Store for durability.
type Graph struct {
	store *channeldb.Store

	mu       sync.RWMutex
	nodes    map[string]*NodeInfo
	channels map[fbtypes.Hash256]*ChannelInfo
	// adjacency maps a node's serialized pubkey to the ids of channels
	// where it is an endpoint, so pathfind.go can enumerate a node's
	// outgoing edges without scanning the whole channel set.
	adjacency map[string][]fbtypes.Hash256
}

func NewGraph(store *channeldb.Store) *Graph {
	return &Graph{
		store:     store,
		nodes:     make(map[string]*NodeInfo),
		channels:  make(map[fbtypes.Hash256]*ChannelInfo),
		adjacency: make(map[string][]fbtypes.Hash256),
	}
}

// Load replays every persisted node and channel into memory. Called once
// at startup, mirroring how the teacher's router rebuilds its view from
// channeldb before serving path requests.
func (g *Graph) Load() error {
	nodeIDs, err := g.store.ListNodeIDs()
	if err != nil {
		return err
	}
	for _, id := range nodeIDs {
		var n NodeInfo
		found, err := g.store.GetNodeInfo(id, &n)
		if err != nil {
			return err
		}
		if found {
			g.indexNode(&n)
		}
	}

	channelIDs, err := g.store.ListChannelIDs()
	if err != nil {
		return err
	}
	for _, id := range channelIDs {
		var c ChannelInfo
		found, err := g.store.GetChannelInfo(id, &c)
		if err != nil {
			return err
		}
		if found {
			g.indexChannel(&c)
		}
	}
	return nil
}

func (g *Graph) indexNode(n *NodeInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.NodeID.String()] = n
}

func (g *Graph) indexChannel(c *ChannelInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.channels[c.ChannelID]; !exists {
		g.adjacency[c.Node1.String()] = append(g.adjacency[c.Node1.String()], c.ChannelID)
		g.adjacency[c.Node2.String()] = append(g.adjacency[c.Node2.String()], c.ChannelID)
	}
	g.channels[c.ChannelID] = c
}

// ApplyNodeAnnouncement validates and, if n is newer than what's on file,
// applies it (spec.md 4.2's last-writer-wins-by-timestamp rule).
func (g *Graph) ApplyNodeAnnouncement(n *NodeInfo) error {
	if err := validateNodeAnnouncement(n); err != nil {
		return ferrors.New(ferrors.CodeProtocolViolation, "%v", err)
	}

	g.mu.RLock()
	existing, ok := g.nodes[n.NodeID.String()]
	g.mu.RUnlock()
	if ok && existing.Timestamp >= n.Timestamp {
		return nil
	}

	if err := g.store.InsertNodeInfo(n.NodeID.Serialize(), n); err != nil {
		return err
	}
	if err := g.store.IndexNodeAnnouncement(n.Timestamp, n.NodeID.Serialize()); err != nil {
		return err
	}
	g.indexNode(n)
	return nil
}

// ApplyChannelAnnouncement validates and records a newly discovered
// channel. Channel announcements, unlike updates, are immutable once
// accepted -- a channel is either known or not, so there's no
// last-writer-wins comparison here.
func (g *Graph) ApplyChannelAnnouncement(c *ChannelInfo) error {
	if err := validateChannelAnnouncement(c); err != nil {
		return ferrors.New(ferrors.CodeProtocolViolation, "%v", err)
	}

	g.mu.RLock()
	_, exists := g.channels[c.ChannelID]
	g.mu.RUnlock()
	if exists {
		return nil
	}

	if err := g.store.InsertChannelInfo(c.ChannelID[:], c); err != nil {
		return err
	}
	if err := g.store.IndexChannelAnnouncement(c.BlockHeight, c.ChannelID[:]); err != nil {
		return err
	}
	g.indexChannel(c)
	return nil
}

// ApplyChannelUpdateFrom validates u against signer and, if newer than the
// update on file for that direction, applies it (spec.md 4.2's
// last-writer-wins-by-timestamp rule, per direction).
func (g *Graph) ApplyChannelUpdateFrom(signer fbtypes.Pubkey, u *ChannelUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.channels[u.ChannelID]
	if !ok {
		return ferrors.New(ferrors.CodeUnknownChannel, "channel %s not in graph", u.ChannelID)
	}

	if err := validateChannelUpdate(signer.Key(), u); err != nil {
		return ferrors.New(ferrors.CodeProtocolViolation, "%v", err)
	}

	isNode1, ok := c.directionFor(signer)
	if !ok {
		return ferrors.New(ferrors.CodeProtocolViolation,
			"signer %s is not an endpoint of channel %s", signer, u.ChannelID)
	}

	existing := c.Update1
	if !isNode1 {
		existing = c.Update2
	}
	if existing != nil && existing.Timestamp >= u.Timestamp {
		return nil
	}

	if isNode1 {
		c.Update1 = u
	} else {
		c.Update2 = u
	}

	if err := g.store.InsertChannelInfo(c.ChannelID[:], c); err != nil {
		return err
	}
	if err := g.store.IndexChannelUpdate(u.Timestamp, u.ChannelID[:]); err != nil {
		return err
	}
	return nil
}

// Node returns the last-known announcement for id, if any.
func (g *Graph) Node(id fbtypes.Pubkey) (*NodeInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id.String()]
	return n, ok
}

// Channel returns the announced record for id, if any.
func (g *Graph) Channel(id fbtypes.Hash256) (*ChannelInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelsOf enumerates the channel ids where node is an endpoint.
func (g *Graph) ChannelsOf(node fbtypes.Pubkey) []fbtypes.Hash256 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.adjacency[node.String()]
	out := make([]fbtypes.Hash256, len(ids))
	copy(out, ids)
	return out
}

// NodeCount and ChannelCount support RPC introspection (e.g. a
// graph_nodes_count-style debug endpoint) without exposing the maps.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) ChannelCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.channels)
}
