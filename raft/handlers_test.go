package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cole-miller/refloat/raftlog"
)

// sentMsg records one outbound SendToServer call.
type sentMsg struct {
	dest       ServerId
	kind       MsgKind
	index      LogIndex
	numEntries uint16
}

// fakeEnv is a deterministic, in-memory Environment for exercising the
// pure per-role handler functions without any I/O or real timers.
type fakeEnv struct {
	myId       ServerId
	numServers int

	term        Term
	votedFlag   bool
	votedFor    ServerId
	entries     []LogEntry // 1-indexed via entries[i-1]
	commitIndex LogIndex

	sent      []sentMsg
	reports   []ClientReport
	restarted int
}

func (e *fakeEnv) NumServers() int { return e.numServers }
func (e *fakeEnv) MyId() ServerId  { return e.myId }

func (e *fakeEnv) ClientChan() <-chan ClientSubmission { return nil }
func (e *fakeEnv) ServerChan() <-chan Message          { return nil }
func (e *fakeEnv) ElectionTimerChan() <-chan time.Time { return nil }
func (e *fakeEnv) VotesTick() <-chan time.Time         { return nil }
func (e *fakeEnv) HeartbeatsTick() <-chan time.Time    { return nil }

func (e *fakeEnv) SendToClient(kind ReportKind, tag MsgTag, payload [raftlog.PayloadSize]byte) {
	e.reports = append(e.reports, ClientReport{Kind: kind, Tag: tag, Payload: payload})
}

func (e *fakeEnv) SendToServer(dest ServerId, kind MsgKind, index LogIndex, numEntries uint16) {
	e.sent = append(e.sent, sentMsg{dest: dest, kind: kind, index: index, numEntries: numEntries})
}

func (e *fakeEnv) DeliverMessage(msg Message)         {}
func (e *fakeEnv) SubmitClient(sub ClientSubmission) {}

func (e *fakeEnv) CurrentTerm() Term { return e.term }

func (e *fakeEnv) UpdateTerm(incoming Term) int {
	switch {
	case incoming > e.term:
		e.term = incoming
		e.votedFlag = false
		e.votedFor = 0
		return 1
	case incoming == e.term:
		return 0
	default:
		return -1
	}
}

func (e *fakeEnv) CanVoteFor(id ServerId) bool { return !e.votedFlag || e.votedFor == id }
func (e *fakeEnv) RecordVote(id ServerId)      { e.votedFlag = true; e.votedFor = id }
func (e *fakeEnv) AdvanceTermAndVoteForSelf() {
	e.term++
	e.votedFlag = true
	e.votedFor = e.myId
}

func (e *fakeEnv) LastLogIndex() LogIndex   { return LogIndex(len(e.entries)) }
func (e *fakeEnv) CommittedIndex() LogIndex { return e.commitIndex }

func (e *fakeEnv) LogEntryAt(i LogIndex) LogEntry {
	if i == 0 {
		return LogEntry{}
	}
	return e.entries[i-1]
}

func (e *fakeEnv) TruncateAndAppendToLog(at LogIndex, entries []LogEntry) {
	e.entries = append(e.entries[:at], entries...)
}

func (e *fakeEnv) AppendEntryToLog(kind raftlog.EntryKind, tag MsgTag, payload [raftlog.PayloadSize]byte) {
	e.entries = append(e.entries, LogEntry{TermAdded: e.term, Tag: tag, Kind: kind, Payload: payload})
}

func (e *fakeEnv) CommitLogEntries(upTo LogIndex) {
	if last := e.LastLogIndex(); upTo > last {
		upTo = last
	}
	if upTo > e.commitIndex {
		e.commitIndex = upTo
	}
}

func (e *fakeEnv) RestartTimer()       { e.restarted++ }
func (e *fakeEnv) StopVotesTick()      {}
func (e *fakeEnv) StopHeartbeatsTick() {}

func TestFollowerHandleWantVoteGrantsWhenLogUpToDate(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 5, entries: []LogEntry{{TermAdded: 4}}}
	restart := followerHandleMsg(env, Message{SenderId: 2, SenderTerm: 5, Kind: WantVote, Index: 1, Term: 4})
	require.True(t, restart)
	require.True(t, env.votedFlag)
	require.Equal(t, ServerId(2), env.votedFor)
	require.Len(t, env.sent, 1)
	require.Equal(t, GrantVote, env.sent[0].kind)
}

func TestFollowerHandleWantVoteDeniesWhenCandidateLogStale(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 5, entries: []LogEntry{{TermAdded: 4}, {TermAdded: 5}}}
	restart := followerHandleMsg(env, Message{SenderId: 2, SenderTerm: 5, Kind: WantVote, Index: 1, Term: 4})
	require.False(t, restart)
	require.Len(t, env.sent, 1)
	require.Equal(t, DenyVote, env.sent[0].kind)
}

func TestFollowerHandleWantVoteDeniesSecondVoteSameTerm(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 5, votedFlag: true, votedFor: 3}
	restart := followerHandleMsg(env, Message{SenderId: 2, SenderTerm: 5, Kind: WantVote, Index: 0, Term: 0})
	require.False(t, restart)
	require.Equal(t, DenyVote, env.sent[0].kind)
}

func TestFollowerHandleTryAppendRejectsGapAndStaleTerm(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 5}
	restart := followerHandleMsg(env, Message{SenderId: 2, SenderTerm: 3, Kind: TryAppend, Index: 5})
	require.False(t, restart)
	require.Equal(t, RefuseAppend, env.sent[0].kind)
}

func TestFollowerHandleTryAppendClampsCommitToLastIndex(t *testing.T) {
	// The leader's commit index can name an entry the follower hasn't
	// received yet (it's still catching up in MaxAppendEntries-sized
	// batches); the follower must never advance its own commit index
	// past what it actually holds.
	env := &fakeEnv{myId: 2, numServers: 3, term: 1}
	entries := []LogEntry{{TermAdded: 1}, {TermAdded: 1}}
	restart := followerHandleMsg(env, Message{
		SenderId: 1, SenderTerm: 1, Kind: TryAppend,
		Index: 0, Term: 0, Commit: 15, NumEntries: 2, Entries: entries,
	})
	require.True(t, restart)
	require.Equal(t, LogIndex(2), env.CommittedIndex())
}

func TestCandidateHandleMsgWinsOnMajority(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 1}
	tally := newCandidateTally(1, 3)
	role, done := candidateHandleMsg(env, tally, nil, Message{SenderId: 2, SenderTerm: 1, Kind: GrantVote})
	require.True(t, done)
	require.Equal(t, RoleLeader, role)
}

func TestCandidateHandleMsgStepsDownOnHigherTerm(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 1}
	tally := newCandidateTally(1, 3)
	role, done := candidateHandleMsg(env, tally, nil, Message{SenderId: 2, SenderTerm: 7, Kind: TryAppend})
	require.True(t, done)
	require.Equal(t, RoleFollower, role)
	require.Equal(t, Term(7), env.term)
}

func TestCandidateHandleMsgIgnoresDuplicateGrant(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 5, term: 1}
	tally := newCandidateTally(1, 5)
	_, done := candidateHandleMsg(env, tally, nil, Message{SenderId: 2, SenderTerm: 1, Kind: GrantVote})
	require.False(t, done)
	_, done = candidateHandleMsg(env, tally, nil, Message{SenderId: 2, SenderTerm: 1, Kind: GrantVote})
	require.False(t, done, "a duplicate grant from the same sender must not be double-counted")
	require.Equal(t, 2, tally.votesReceived)
}

func TestLeaderHandleMsgAdvancesMatchAndCommits(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 1, entries: []LogEntry{{TermAdded: 1}, {TermAdded: 1}}}
	indices := map[ServerId]*trackedIndices{
		1: {matched: 2, next: 3},
		2: {matched: 0, next: 1},
		3: {matched: 0, next: 1},
	}
	role, done := leaderHandleMsg(env, indices, nil, Message{SenderId: 2, SenderTerm: 1, Kind: AcceptAppend, Index: 0, NumEntries: 2})
	require.False(t, done)
	require.Equal(t, RoleLeader, role)
	require.Equal(t, LogIndex(2), indices[2].matched)
	require.Equal(t, LogIndex(2), env.CommittedIndex())
}

func TestLeaderHandleClientCommitsOnSingleNodeCluster(t *testing.T) {
	// With no peers, the leader's own matched index is already a
	// majority; a client submission must commit immediately.
	env := &fakeEnv{myId: 1, numServers: 1, term: 1, entries: []LogEntry{{TermAdded: 1, Kind: EntryNop}}}
	indices := map[ServerId]*trackedIndices{1: {matched: 1, next: 2}}
	var payload [raftlog.PayloadSize]byte
	leaderHandleClient(env, indices, ClientSubmission{Tag: 7, Payload: payload})
	require.Equal(t, LogIndex(2), indices[1].matched)
	require.Equal(t, LogIndex(2), env.CommittedIndex())
}

func TestLeaderSendAppendsToAllPanicsOnInvalidNextIndex(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 2, term: 1, entries: []LogEntry{{TermAdded: 1}}}
	indices := map[ServerId]*trackedIndices{
		1: {matched: 1, next: 2},
		2: {matched: 0, next: 0},
	}
	require.Panics(t, func() { leaderSendAppendsToAll(env, indices) })
}

func TestLeaderHandleMsgStepsDownOnHigherTerm(t *testing.T) {
	env := &fakeEnv{myId: 1, numServers: 3, term: 1}
	indices := map[ServerId]*trackedIndices{1: {next: 1}, 2: {next: 1}, 3: {next: 1}}
	role, done := leaderHandleMsg(env, indices, nil, Message{SenderId: 2, SenderTerm: 9, Kind: TryAppend})
	require.True(t, done)
	require.Equal(t, RoleFollower, role)
}
