package raftlog

import "encoding/binary"

// PayloadSize is the fixed size, in bytes, of a LogEntry's payload.
const PayloadSize = 200

// EntrySize is the fixed on-disk size of one entry record:
// term_added(8) + tag(8) + kind(1) + payload(200).
const EntrySize = 8 + 8 + 1 + PayloadSize

// EntryKind distinguishes a leader's term-opening Nop from a client
// submission carried by a Normal entry.
type EntryKind uint8

const (
	EntryNop EntryKind = iota
	EntryNormal
)

// Term is a monotonically non-decreasing election epoch.
type Term uint64

// LogIndex is a 1-based position in the replicated log; 0 means
// "before the first entry" and has an implicit term of 0.
type LogIndex uint64

// ServerId names a cluster member, 1..=N with N <= MaxServers. 0 is
// reserved for "no id".
type ServerId uint16

// MaxServers bounds cluster size, matching RAFT_MAX_SERVERS.
const MaxServers = 101

// MsgTag is an opaque client correlation id.
type MsgTag uint64

// LogEntry is one record of the replicated log.
type LogEntry struct {
	TermAdded Term
	Tag       MsgTag
	Kind      EntryKind
	Payload   [PayloadSize]byte
}

func encodeEntry(e LogEntry) []byte {
	buf := make([]byte, EntrySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.TermAdded))
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Tag))
	buf[16] = byte(e.Kind)
	copy(buf[17:17+PayloadSize], e.Payload[:])
	return buf
}

func decodeEntry(buf []byte) LogEntry {
	var e LogEntry
	e.TermAdded = Term(binary.BigEndian.Uint64(buf[0:8]))
	e.Tag = MsgTag(binary.BigEndian.Uint64(buf[8:16]))
	e.Kind = EntryKind(buf[16])
	copy(e.Payload[:], buf[17:17+PayloadSize])
	return e
}

// entryOffset returns the byte offset of entry index i (1-based) within
// the primary file, counting from the start of the file (past the header).
func entryOffset(i LogIndex) int64 {
	return HeaderSize + int64(i-1)*EntrySize
}
