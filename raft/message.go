package raft

import "github.com/cole-miller/refloat/raftlog"

// Type aliases so callers of raft don't need to import raftlog directly
// for the shared data-model types.
type (
	ServerId = raftlog.ServerId
	Term     = raftlog.Term
	LogIndex = raftlog.LogIndex
	MsgTag   = raftlog.MsgTag
	LogEntry = raftlog.LogEntry
)

const (
	EntryNop    = raftlog.EntryNop
	EntryNormal = raftlog.EntryNormal
)

// MaxAppendEntries bounds how many entries a single TRY_APPEND carries.
const MaxAppendEntries = 10

// MsgKind names the kinds of peer-to-peer protocol messages.
type MsgKind int

const (
	WantVote MsgKind = iota
	DenyVote
	GrantVote

	TryAppend
	RefuseAppend
	AcceptAppend
)

func (k MsgKind) String() string {
	switch k {
	case WantVote:
		return "WANT_VOTE"
	case DenyVote:
		return "DENY_VOTE"
	case GrantVote:
		return "GRANT_VOTE"
	case TryAppend:
		return "TRY_APPEND"
	case RefuseAppend:
		return "REFUSE_APPEND"
	case AcceptAppend:
		return "ACCEPT_APPEND"
	default:
		return "UNKNOWN"
	}
}

// Message is a peer-to-peer protocol message. Not every field is
// meaningful for every Kind; see the comment above each field.
type Message struct {
	SenderId   ServerId
	SenderTerm Term
	Kind       MsgKind

	// WANT_VOTE: Index/Term carry the candidate's last log index/term.
	// TRY_APPEND: Index/Term carry prevLogIndex/prevLogTerm, Commit
	// carries leaderCommit, Entries the batch.
	// ACCEPT_APPEND/REFUSE_APPEND: Index/NumEntries echo the TRY_APPEND
	// that's being answered.
	Index      LogIndex
	Term       Term
	Commit     LogIndex
	NumEntries uint16
	Entries    []LogEntry
}

// ReportKind names the kinds of reports sent to a client.
type ReportKind int

const (
	NotLeader ReportKind = iota
	BecameLeader
)

// ClientSubmission is a client's request to append a command to the log.
type ClientSubmission struct {
	Tag     MsgTag
	Payload [raftlog.PayloadSize]byte
}

// ClientReport is sent back to a client in response to a submission, or
// unprompted to announce a leadership transition.
type ClientReport struct {
	Kind    ReportKind
	Tag     MsgTag
	Payload [raftlog.PayloadSize]byte
}
