package raft

// Peer is a remote cluster member reachable over whatever transport the
// environment is configured with (see raft/http for the shipped one).
// Send is fire-and-forget: replies, if any, arrive later as ordinary
// inbound Messages through the environment's receive loop, never as a
// synchronous return value.
type Peer interface {
	Id() ServerId
	Send(msg Message) error
}

// Peers is the set of *other* cluster members — it never contains an
// entry for the local node. Cluster size N, for quorum purposes, is
// len(Peers)+1.
type Peers map[ServerId]Peer

// Count returns the number of remote peers (N-1).
func (p Peers) Count() int { return len(p) }

// Except returns the peers other than id (a no-op here since Peers never
// contains self, but useful for narrowing a broadcast to a subset).
func (p Peers) Except(id ServerId) Peers {
	out := make(Peers, len(p))
	for pid, peer := range p {
		if pid != id {
			out[pid] = peer
		}
	}
	return out
}
