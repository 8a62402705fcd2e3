package raft

import (
	"math/rand"
	"time"

	"github.com/cole-miller/refloat/raftlog"
)

// MinimumElectionTimeoutMs is the lower bound of the randomized election
// timeout: a follower/candidate timeout is drawn uniformly from
// [min, 2*min).
var MinimumElectionTimeoutMs = 250

// ElectionTimeout returns a randomized election timeout duration.
func ElectionTimeout() time.Duration {
	n := rand.Intn(MinimumElectionTimeoutMs)
	return time.Duration(MinimumElectionTimeoutMs+n) * time.Millisecond
}

// BroadcastInterval is the heartbeat cadence for a Leader, and the retry
// cadence (TIMEOUT_HEARTBEATS / TIMEOUT_VOTES) used while soliciting
// votes or sending AppendEntries.
func BroadcastInterval() time.Duration {
	return time.Duration(MinimumElectionTimeoutMs/10) * time.Millisecond
}

// Environment is the capability record the automaton is parameterized
// by: every piece of state and I/O a role handler needs, abstracted
// behind an interface so the automaton's logic can be tested against a
// fake. The original's receive_messages primitive, which blocks until a
// message arrives or the election timer signal fires via siglongjmp, is
// realized here as plain Go channels consumed by select in the role
// loops: there is no separate masking API because a single
// select-per-iteration loop is already atomic with respect to the timer
// by construction.
type Environment interface {
	NumServers() int
	MyId() ServerId

	ClientChan() <-chan ClientSubmission
	ServerChan() <-chan Message
	ElectionTimerChan() <-chan time.Time
	VotesTick() <-chan time.Time
	HeartbeatsTick() <-chan time.Time

	SendToClient(kind ReportKind, tag MsgTag, payload [raftlog.PayloadSize]byte)
	SendToServer(dest ServerId, kind MsgKind, index LogIndex, numEntries uint16)

	// DeliverMessage and SubmitClient are the inbound counterparts of
	// ServerChan/ClientChan: a transport (raft/http) calls these to hand
	// a received message to the automaton.
	DeliverMessage(msg Message)
	SubmitClient(sub ClientSubmission)

	CurrentTerm() Term
	UpdateTerm(incoming Term) int
	CanVoteFor(id ServerId) bool
	RecordVote(id ServerId)
	AdvanceTermAndVoteForSelf()

	LastLogIndex() LogIndex
	CommittedIndex() LogIndex
	LogEntryAt(i LogIndex) LogEntry
	TruncateAndAppendToLog(at LogIndex, entries []LogEntry)
	AppendEntryToLog(kind raftlog.EntryKind, tag MsgTag, payload [raftlog.PayloadSize]byte)
	CommitLogEntries(upTo LogIndex)

	RestartTimer()
	StopVotesTick()
	StopHeartbeatsTick()
}

// liveEnvironment binds the automaton to a real raftlog.Log, a Peers
// transport, and a client-report sink.
type liveEnvironment struct {
	myId  ServerId
	peers Peers

	log *Log

	commitIndex LogIndex
	onCommit    func(LogEntry)
	onReport    func(ClientReport)

	clientCh chan ClientSubmission
	serverCh chan Message

	electionTimer *time.Timer
	votesTicker   *time.Ticker
	heartbeats    *time.Ticker

	logFatal func(error, string)
}

// Log is an alias so raft's exported surface doesn't force callers to
// import raftlog just to hold a handle.
type Log = raftlog.Log

// NewLiveEnvironment builds the Environment a production node runs
// against: myId is this node's id, peers its outbound connections, log
// the already-recovered persistent log, onCommit a callback invoked (in
// order) for each newly committed entry, onReport a sink for client
// reports (submission outcomes and leadership announcements), and
// logFatal how to terminate the process on an unrecoverable log error.
func NewLiveEnvironment(myId ServerId, peers Peers, log *Log, onCommit func(LogEntry), onReport func(ClientReport), logFatal func(error, string)) Environment {
	return newLiveEnvironment(myId, peers, log, onCommit, onReport, logFatal)
}

func newLiveEnvironment(myId ServerId, peers Peers, log *Log, onCommit func(LogEntry), onReport func(ClientReport), logFatal func(error, string)) *liveEnvironment {
	return &liveEnvironment{
		myId:          myId,
		peers:         peers,
		log:           log,
		onCommit:      onCommit,
		onReport:      onReport,
		clientCh:      make(chan ClientSubmission, 64),
		serverCh:      make(chan Message, 64),
		electionTimer: time.NewTimer(ElectionTimeout()),
		logFatal:      logFatal,
	}
}

func (e *liveEnvironment) NumServers() int { return e.peers.Count() + 1 }
func (e *liveEnvironment) MyId() ServerId  { return e.myId }

func (e *liveEnvironment) ClientChan() <-chan ClientSubmission { return e.clientCh }
func (e *liveEnvironment) ServerChan() <-chan Message          { return e.serverCh }

func (e *liveEnvironment) ElectionTimerChan() <-chan time.Time { return e.electionTimer.C }

func (e *liveEnvironment) VotesTick() <-chan time.Time {
	if e.votesTicker == nil {
		e.votesTicker = time.NewTicker(BroadcastInterval())
	}
	return e.votesTicker.C
}

func (e *liveEnvironment) HeartbeatsTick() <-chan time.Time {
	if e.heartbeats == nil {
		e.heartbeats = time.NewTicker(BroadcastInterval())
	}
	return e.heartbeats.C
}

// StopVotesTick and StopHeartbeatsTick are called on role exit so the
// tickers don't keep firing into an abandoned channel.
func (e *liveEnvironment) StopVotesTick() {
	if e.votesTicker != nil {
		e.votesTicker.Stop()
		e.votesTicker = nil
	}
}

func (e *liveEnvironment) StopHeartbeatsTick() {
	if e.heartbeats != nil {
		e.heartbeats.Stop()
		e.heartbeats = nil
	}
}

func (e *liveEnvironment) SendToClient(kind ReportKind, tag MsgTag, payload [raftlog.PayloadSize]byte) {
	if e.onReport != nil {
		e.onReport(ClientReport{Kind: kind, Tag: tag, Payload: payload})
	}
}

func (e *liveEnvironment) SendToServer(dest ServerId, kind MsgKind, index LogIndex, numEntries uint16) {
	peer, ok := e.peers[dest]
	if !ok {
		return
	}
	msg := Message{
		SenderId:   e.myId,
		SenderTerm: e.log.CurrentTerm(),
		Kind:       kind,
		Index:      index,
		NumEntries: numEntries,
	}
	if kind == TryAppend {
		prevIndex := index
		prevEntry, err := e.log.Entry(prevIndex)
		if err != nil {
			e.logFatal(err, "read prev entry for TRY_APPEND")
			return
		}
		msg.Term = prevEntry.TermAdded
		msg.Commit = e.commitIndex
		entries := make([]LogEntry, 0, numEntries)
		for i := uint16(0); i < numEntries; i++ {
			entry, err := e.log.Entry(prevIndex + 1 + LogIndex(i))
			if err != nil {
				e.logFatal(err, "read entry for TRY_APPEND")
				return
			}
			entries = append(entries, entry)
		}
		msg.Entries = entries
	} else if kind == WantVote {
		// WANT_VOTE always carries the candidate's own last-log
		// index/term, regardless of what the role loop passed in.
		msg.Index = e.log.LastIndex()
		msg.Term = e.log.LastTerm()
	}
	_ = peer.Send(msg)
}

func (e *liveEnvironment) DeliverMessage(msg Message)       { e.serverCh <- msg }
func (e *liveEnvironment) SubmitClient(sub ClientSubmission) { e.clientCh <- sub }

func (e *liveEnvironment) CurrentTerm() Term { return e.log.CurrentTerm() }

func (e *liveEnvironment) UpdateTerm(incoming Term) int {
	result, err := e.log.UpdateTerm(incoming)
	if err != nil {
		e.logFatal(err, "update term")
	}
	return result
}

func (e *liveEnvironment) CanVoteFor(id ServerId) bool { return e.log.CanVoteFor(id) }

func (e *liveEnvironment) RecordVote(id ServerId) {
	if err := e.log.RecordVote(id); err != nil {
		e.logFatal(err, "record vote")
	}
}

func (e *liveEnvironment) AdvanceTermAndVoteForSelf() {
	if err := e.log.AdvanceTermAndVoteForSelf(e.myId); err != nil {
		e.logFatal(err, "advance term and vote for self")
	}
}

func (e *liveEnvironment) LastLogIndex() LogIndex   { return e.log.LastIndex() }
func (e *liveEnvironment) CommittedIndex() LogIndex { return e.commitIndex }

func (e *liveEnvironment) LogEntryAt(i LogIndex) LogEntry {
	entry, err := e.log.Entry(i)
	if err != nil {
		e.logFatal(err, "read log entry")
	}
	return entry
}

func (e *liveEnvironment) TruncateAndAppendToLog(at LogIndex, entries []LogEntry) {
	if err := e.log.TruncateAndAppend(at, entries); err != nil {
		e.logFatal(err, "truncate and append to log")
	}
}

func (e *liveEnvironment) AppendEntryToLog(kind raftlog.EntryKind, tag MsgTag, payload [raftlog.PayloadSize]byte) {
	if err := e.log.AppendEntry(kind, tag, payload); err != nil {
		e.logFatal(err, "append entry to log")
	}
}

func (e *liveEnvironment) CommitLogEntries(upTo LogIndex) {
	if last := e.log.LastIndex(); upTo > last {
		upTo = last
	}
	if upTo <= e.commitIndex {
		return
	}
	start := e.commitIndex + 1
	e.commitIndex = upTo
	if e.onCommit == nil {
		return
	}
	for i := start; i <= upTo; i++ {
		e.onCommit(e.LogEntryAt(i))
	}
}

// RestartTimer re-arms the election timer, draining any pending-but-
// undelivered expiry first so a spurious election can't fire against
// the freshly reset timer.
func (e *liveEnvironment) RestartTimer() {
	if !e.electionTimer.Stop() {
		select {
		case <-e.electionTimer.C:
		default:
		}
	}
	e.electionTimer.Reset(ElectionTimeout())
}
