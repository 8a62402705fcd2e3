package raft

import (
	"fmt"

	"github.com/cole-miller/refloat/raftlog"
)

// trackedIndices is the leader's per-follower replication state: matched
// is the highest index known to be replicated there, next is the index
// of the next entry to send.
type trackedIndices struct {
	matched LogIndex
	next    LogIndex
}

func leaderSendAppendsToAll(env Environment, indices map[ServerId]*trackedIndices) {
	myId := env.MyId()
	lastIndex := env.LastLogIndex()
	for i := 1; i <= env.NumServers(); i++ {
		id := ServerId(i)
		if id == myId {
			continue
		}
		ti := indices[id]
		if ti.next == 0 || ti.next > lastIndex+1 {
			panic(fmt.Sprintf("raft: server %d has invalid next index %d (last log index %d)", id, ti.next, lastIndex))
		}
		numSend := uint16(0)
		if lastIndex+1 > ti.next {
			remaining := uint64(lastIndex + 1 - ti.next)
			if remaining > MaxAppendEntries {
				remaining = MaxAppendEntries
			}
			numSend = uint16(remaining)
		}
		env.SendToServer(id, TryAppend, ti.next-1, numSend)
	}
}

func leaderHandleClient(env Environment, indices map[ServerId]*trackedIndices, sub ClientSubmission) {
	env.AppendEntryToLog(EntryNormal, sub.Tag, sub.Payload)
	advanceSelfMatch(env, indices)
	leaderSendAppendsToAll(env, indices)
	leaderCommitNewlyReplicated(env, indices, indices[env.MyId()].matched)
}

// advanceSelfMatch keeps the leader's own tracked index in sync with its
// log: the leader is always a replica of its own entries, so a majority
// of one (an N=1 cluster) must be able to commit without ever receiving
// an ACCEPT_APPEND.
func advanceSelfMatch(env Environment, indices map[ServerId]*trackedIndices) {
	ti := indices[env.MyId()]
	if last := env.LastLogIndex(); last > ti.matched {
		ti.matched = last
	}
}

// leaderCommitNewlyReplicated looks for the highest index, no higher than
// start and above the current commit index, that a majority of
// the cluster (including this leader) has replicated in the leader's own
// current term, and commits up to it. Raft forbids committing entries
// from a prior term by counting replicas alone: only an entry added in
// the current term can be committed this way.
func leaderCommitNewlyReplicated(env Environment, indices map[ServerId]*trackedIndices, start LogIndex) {
	currentTerm := env.CurrentTerm()
	base := env.CommittedIndex()
	numServers := env.NumServers()
	for j := start; j > base && env.LogEntryAt(j).TermAdded == currentTerm; j-- {
		replicas := 0
		for i := 1; i <= numServers; i++ {
			if indices[ServerId(i)].matched >= j {
				replicas++
			}
		}
		if 2*replicas > numServers {
			env.CommitLogEntries(j)
			break
		}
	}
}

func leaderHandleMsg(env Environment, indices map[ServerId]*trackedIndices, m *metrics, msg Message) (Role, bool) {
	updateResult := env.UpdateTerm(msg.SenderTerm)
	if updateResult > 0 {
		return RoleFollower, true
	}

	switch msg.Kind {
	case WantVote:
		env.SendToServer(msg.SenderId, DenyVote, 0, 0)

	case TryAppend:
		env.SendToServer(msg.SenderId, RefuseAppend, msg.Index, msg.NumEntries)

	case RefuseAppend:
		if updateResult == 0 {
			m.incAppendRefused()
			ti := indices[msg.SenderId]
			impliedNext := msg.Index
			if impliedNext < ti.next {
				ti.next = impliedNext
			}
		}

	case AcceptAppend:
		if updateResult == 0 {
			m.incAppendAccepted()
			ti := indices[msg.SenderId]
			impliedMatched := msg.Index + LogIndex(msg.NumEntries)
			if impliedMatched > ti.matched {
				ti.matched = impliedMatched
			}
			if impliedMatched+1 > ti.next {
				ti.next = impliedMatched + 1
			}
			leaderCommitNewlyReplicated(env, indices, ti.matched)
		}

	case DenyVote, GrantVote:
		// A stale election this node is no longer contesting.
	}

	return RoleLeader, false
}

// leaderSelect runs the Leader role: it appends a no-op entry to mark
// the start of its term (the classic Raft technique that lets it commit
// entries from prior terms once the no-op itself is committed), then
// drives replication from client submissions and periodic heartbeats
// until it discovers a newer term and steps down.
func (s *Server) leaderSelect() Role {
	log := s.logger(RoleLeader)
	env := s.env
	defer env.StopHeartbeatsTick()

	log.WithField("timeout", TimeoutHeartbeats.String()).Debug("became leader")
	env.SendToClient(BecameLeader, 0, [raftlog.PayloadSize]byte{})
	env.AppendEntryToLog(EntryNop, 0, [raftlog.PayloadSize]byte{})

	top := env.LastLogIndex()
	indices := make(map[ServerId]*trackedIndices, env.NumServers())
	for i := 1; i <= env.NumServers(); i++ {
		indices[ServerId(i)] = &trackedIndices{matched: 0, next: top + 1}
	}
	indices[env.MyId()].matched = top
	// A majority of one (an N=1 cluster, or any cluster before a single
	// peer reply arrives) must still commit the Nop on its own.
	leaderCommitNewlyReplicated(env, indices, top)

	for {
		select {
		case sub := <-env.ClientChan():
			leaderHandleClient(env, indices, sub)

		case msg := <-env.ServerChan():
			logMessage(log, msg)
			next, done := leaderHandleMsg(env, indices, s.metrics, msg)
			if done {
				return next
			}

		case <-env.HeartbeatsTick():
			leaderSendAppendsToAll(env, indices)
		}
	}
}
