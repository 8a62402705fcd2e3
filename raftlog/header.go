package raftlog

import "encoding/binary"

// HeaderSize is the fixed size, in bytes, of the primary file's header:
// (has_vote<<63 | voted_for) | current_term | last_index, each a big-endian
// uint64 word.
const HeaderSize = 3 * 8

// votedBit is the high bit of the header's first word, marking that a vote
// has been cast for the current term.
const votedBit = uint64(1) << 63

// header is the in-memory mirror of the primary file's persistent header.
type header struct {
	votedFlag   bool
	votedFor    ServerId
	currentTerm Term
	lastIndex   LogIndex
}

func (h header) encode() []byte {
	buf := make([]byte, HeaderSize)
	word0 := uint64(h.votedFor)
	if h.votedFlag {
		word0 |= votedBit
	}
	binary.BigEndian.PutUint64(buf[0:8], word0)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.currentTerm))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.lastIndex))
	return buf
}

func decodeHeader(buf []byte) header {
	word0 := binary.BigEndian.Uint64(buf[0:8])
	return header{
		votedFlag:   word0&votedBit != 0,
		votedFor:    ServerId(word0 &^ votedBit),
		currentTerm: Term(binary.BigEndian.Uint64(buf[8:16])),
		lastIndex:   LogIndex(binary.BigEndian.Uint64(buf[16:24])),
	}
}

// SecondaryHeaderSize is the size, in bytes, of the undo file's optional
// second header, present only when the undo record covers an entries
// region as well as the primary header.
const SecondaryHeaderSize = 2 * 8

type secondaryHeader struct {
	entriesStart LogIndex
	entriesLen   uint64
}

func (s secondaryHeader) encode() []byte {
	buf := make([]byte, SecondaryHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(s.entriesStart))
	binary.BigEndian.PutUint64(buf[8:16], s.entriesLen)
	return buf
}

func decodeSecondaryHeader(buf []byte) secondaryHeader {
	return secondaryHeader{
		entriesStart: LogIndex(binary.BigEndian.Uint64(buf[0:8])),
		entriesLen:   binary.BigEndian.Uint64(buf[8:16]),
	}
}
