// Package raftlog implements the crash-safe, file-backed Raft log: a
// primary file holding the persistent term/vote header and the entry
// records, paired with an undo file used as a write-ahead intention
// record so that a crash mid-mutation can always be rolled back cleanly.
package raftlog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// filePerm: owner read/write, group/other read.
const filePerm = 0o644

// Log owns the primary and undo files for one node directory, plus the
// advisory lock that keeps a second instance from opening the same
// directory concurrently.
type Log struct {
	dirPath string
	primary *os.File
	undo    *os.File
	lock    *flock.Flock

	hdr header
}

// Open creates or opens "primary" and "undo" beneath dir, and acquires an
// exclusive advisory lock on primary. It does not perform crash recovery;
// call Recover before using the log. On any failure, all resources opened
// so far are released in reverse order and a non-nil error is returned.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapIO("mkdir node dir", err)
	}

	primaryPath := filepath.Join(dir, "primary")
	lock := flock.New(primaryPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, wrapIO("lock primary", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	// O_NOFOLLOW equivalent: refuse a primary path that is a symlink.
	primary, err := openNoFollow(primaryPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, wrapIO("open primary", err)
	}

	undoPath := filepath.Join(dir, "undo")
	undo, err := openNoFollow(undoPath)
	if err != nil {
		_ = primary.Close()
		_ = lock.Unlock()
		return nil, wrapIO("open undo", err)
	}

	return &Log{
		dirPath: dir,
		primary: primary,
		undo:    undo,
		lock:    lock,
	}, nil
}

// Close releases the advisory lock (implicit on close) and closes both
// file descriptors.
func (l *Log) Close() error {
	var firstErr error
	if err := l.primary.Close(); err != nil && firstErr == nil {
		firstErr = wrapIO("close primary", err)
	}
	if err := l.undo.Close(); err != nil && firstErr == nil {
		firstErr = wrapIO("close undo", err)
	}
	if err := l.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = wrapIO("unlock primary", err)
	}
	return firstErr
}

// Recover makes primary coherent after a possibly-interrupted mutation,
// per the undo file's encoded intention (see header.go for the shapes),
// then loads the persistent header into memory. On first open (an empty
// primary), it initializes term=0, voted_for=none, empty log.
func (l *Log) Recover() error {
	undoLen, err := fileSize(l.undo)
	if err != nil {
		return wrapIO("stat undo", err)
	}

	if undoLen >= HeaderSize {
		hdrBuf := make([]byte, HeaderSize)
		if _, err := l.undo.ReadAt(hdrBuf, 0); err != nil {
			return wrapIO("read undo header", err)
		}
		haveEntries := hdrBuf[0]&0x80 != 0

		wellFormed := false
		var sh secondaryHeader
		var entriesBuf []byte
		if haveEntries {
			if undoLen >= HeaderSize+SecondaryHeaderSize {
				secBuf := make([]byte, SecondaryHeaderSize)
				if _, err := l.undo.ReadAt(secBuf, HeaderSize); err != nil {
					return wrapIO("read undo secondary header", err)
				}
				sh = decodeSecondaryHeader(secBuf)
				expected := int64(HeaderSize) + int64(SecondaryHeaderSize) + int64(sh.entriesLen)*EntrySize
				if undoLen == expected {
					entriesBuf = make([]byte, int64(sh.entriesLen)*EntrySize)
					if sh.entriesLen > 0 {
						if _, err := l.undo.ReadAt(entriesBuf, HeaderSize+SecondaryHeaderSize); err != nil {
							return wrapIO("read undo entries", err)
						}
					}
					wellFormed = true
				}
			}
		} else if undoLen == HeaderSize {
			wellFormed = true
		}

		if wellFormed {
			// The high "has-entries" bit is a recovery artifact of the
			// undo encoding, not part of the persistent header: clear it
			// before writing back to primary.
			hdrBuf[0] &^= 0x80
			if _, err := l.primary.WriteAt(hdrBuf, 0); err != nil {
				return wrapIO("restore primary header", err)
			}
			if haveEntries && sh.entriesLen > 0 {
				if _, err := l.primary.WriteAt(entriesBuf, entryOffset(sh.entriesStart)); err != nil {
					return wrapIO("restore primary entries", err)
				}
			}
			if err := l.primary.Sync(); err != nil {
				return wrapIO("sync primary after recovery", err)
			}
		}
		// else: undo was malformed/incomplete; no intention was fully
		// recorded, so primary is left as-is and undo is discarded below.
	}

	if err := l.undo.Truncate(0); err != nil {
		return wrapIO("truncate undo", err)
	}
	if err := l.undo.Sync(); err != nil {
		return wrapIO("sync undo", err)
	}

	return l.loadHeader()
}

// loadHeader reads the (now-coherent) primary header into memory,
// initializing it on first open.
func (l *Log) loadHeader() error {
	size, err := fileSize(l.primary)
	if err != nil {
		return wrapIO("stat primary", err)
	}
	if size < HeaderSize {
		l.hdr = header{}
		buf := l.hdr.encode()
		if _, err := l.primary.WriteAt(buf, 0); err != nil {
			return wrapIO("initialize primary header", err)
		}
		if err := l.primary.Sync(); err != nil {
			return wrapIO("sync initial primary header", err)
		}
		return nil
	}
	buf := make([]byte, HeaderSize)
	if _, err := l.primary.ReadAt(buf, 0); err != nil {
		return wrapIO("read primary header", err)
	}
	l.hdr = decodeHeader(buf)
	return nil
}

// --- accessors ---

// CurrentTerm returns the node's persisted current term.
func (l *Log) CurrentTerm() Term { return l.hdr.currentTerm }

// VotedFor reports whether a vote has been cast for the current term,
// and for whom.
func (l *Log) VotedFor() (ServerId, bool) { return l.hdr.votedFor, l.hdr.votedFlag }

// LastIndex returns the index of the last entry in the log, or 0 if empty.
func (l *Log) LastIndex() LogIndex { return l.hdr.lastIndex }

// LastTerm returns the term of the entry at LastIndex, or 0 if the log
// is empty.
func (l *Log) LastTerm() Term {
	if l.hdr.lastIndex == 0 {
		return 0
	}
	e, err := l.Entry(l.hdr.lastIndex)
	if err != nil {
		return 0
	}
	return e.TermAdded
}

// Entry returns the entry at the given 1-based index. Index 0 denotes
// "before the first entry" and returns a zero entry with term 0.
func (l *Log) Entry(i LogIndex) (LogEntry, error) {
	if i == 0 {
		return LogEntry{}, nil
	}
	buf := make([]byte, EntrySize)
	if _, err := l.primary.ReadAt(buf, entryOffset(i)); err != nil {
		return LogEntry{}, wrapIO("read entry", err)
	}
	return decodeEntry(buf), nil
}

// --- mutations ---

// UpdateTerm implements the role-independent update_term helper: if
// incoming is newer, it persists the new term and clears the vote and
// returns +1; if equal, returns 0; if older, returns -1 without mutation.
func (l *Log) UpdateTerm(incoming Term) (int, error) {
	switch {
	case incoming > l.hdr.currentTerm:
		newHdr := header{votedFlag: false, votedFor: 0, currentTerm: incoming, lastIndex: l.hdr.lastIndex}
		if err := l.mutateHeaderOnly(newHdr); err != nil {
			return 0, err
		}
		return 1, nil
	case incoming == l.hdr.currentTerm:
		return 0, nil
	default:
		return -1, nil
	}
}

// CanVoteFor reports whether a vote may still be cast for candidate in
// the current term.
func (l *Log) CanVoteFor(candidate ServerId) bool {
	return !l.hdr.votedFlag || l.hdr.votedFor == candidate
}

// RecordVote persists a vote for candidate in the current term.
func (l *Log) RecordVote(candidate ServerId) error {
	newHdr := l.hdr
	newHdr.votedFlag = true
	newHdr.votedFor = candidate
	return l.mutateHeaderOnly(newHdr)
}

// AdvanceTermAndVoteForSelf atomically bumps current_term and records a
// self-vote, as a Candidate does on entry.
func (l *Log) AdvanceTermAndVoteForSelf(self ServerId) error {
	newHdr := header{
		votedFlag:   true,
		votedFor:    self,
		currentTerm: l.hdr.currentTerm + 1,
		lastIndex:   l.hdr.lastIndex,
	}
	return l.mutateHeaderOnly(newHdr)
}

// AppendEntry appends a single new entry at the end of the log.
func (l *Log) AppendEntry(kind EntryKind, tag MsgTag, payload [PayloadSize]byte) error {
	entry := LogEntry{TermAdded: l.hdr.currentTerm, Tag: tag, Kind: kind, Payload: payload}
	return l.appendEntriesAt(l.hdr.lastIndex+1, []LogEntry{entry})
}

// TruncateAndAppend discards any entries after index at and appends
// entries in their place, per the Follower's log-matching response to
// TRY_APPEND.
func (l *Log) TruncateAndAppend(at LogIndex, entries []LogEntry) error {
	return l.appendEntriesAt(at+1, entries)
}

// appendEntriesAt overwrites entries starting at the 1-based index start,
// setting last_index to start+len(entries)-1 (or leaving it at start-1 if
// entries is empty, i.e. a pure truncation).
func (l *Log) appendEntriesAt(start LogIndex, entries []LogEntry) error {
	oldLastIndex := l.hdr.lastIndex
	newLastIndex := start - 1 + LogIndex(len(entries))

	// The undo snapshot must cover every byte that might change: from
	// start through whichever is farther out, the old last entry or the
	// new last entry.
	snapshotEnd := oldLastIndex
	if newLastIndex > snapshotEnd {
		snapshotEnd = newLastIndex
	}
	var snapshotLen uint64
	if snapshotEnd >= start {
		snapshotLen = uint64(snapshotEnd - start + 1)
	}

	oldBytes := make([]byte, snapshotLen*EntrySize)
	if snapshotLen > 0 {
		n, err := l.primary.ReadAt(oldBytes, entryOffset(start))
		if err != nil && err != io.EOF {
			return wrapIO("snapshot old entries", err)
		}
		// Reads short of EOF (e.g. appending past the current end of
		// file) leave the remainder correctly zeroed.
		_ = n
	}

	if err := l.writeUndoWithEntries(l.hdr, start, oldBytes); err != nil {
		return err
	}

	newHdr := l.hdr
	newHdr.lastIndex = newLastIndex
	for i, e := range entries {
		buf := encodeEntry(e)
		if _, err := l.primary.WriteAt(buf, entryOffset(start+LogIndex(i))); err != nil {
			return wrapIO("write entry", err)
		}
	}
	hdrBuf := newHdr.encode()
	if _, err := l.primary.WriteAt(hdrBuf, 0); err != nil {
		return wrapIO("write primary header", err)
	}
	if err := l.primary.Sync(); err != nil {
		return wrapIO("sync primary", err)
	}
	if err := l.clearUndo(); err != nil {
		return err
	}
	l.hdr = newHdr
	return nil
}

// mutateHeaderOnly persists a header-only change (term and/or vote,
// last_index unchanged), following the write-ahead discipline: snapshot
// into undo, flush; write new primary header, flush; clear undo, flush.
func (l *Log) mutateHeaderOnly(newHdr header) error {
	oldBuf := l.hdr.encode()
	if err := l.writeUndo(oldBuf); err != nil {
		return wrapIO("write undo (header)", err)
	}
	newBuf := newHdr.encode()
	if _, err := l.primary.WriteAt(newBuf, 0); err != nil {
		return wrapIO("write primary header", err)
	}
	if err := l.primary.Sync(); err != nil {
		return wrapIO("sync primary", err)
	}
	if err := l.clearUndo(); err != nil {
		return err
	}
	l.hdr = newHdr
	return nil
}

// writeUndoWithEntries records an undo intention covering both the
// header and an entries region, marking the shape with the header's
// high bit as a recovery artifact (see header.go).
func (l *Log) writeUndoWithEntries(oldHdr header, start LogIndex, oldEntryBytes []byte) error {
	hdrBuf := oldHdr.encode()
	hdrBuf[0] |= 0x80
	sh := secondaryHeader{entriesStart: start, entriesLen: uint64(len(oldEntryBytes)) / EntrySize}
	buf := make([]byte, 0, HeaderSize+SecondaryHeaderSize+len(oldEntryBytes))
	buf = append(buf, hdrBuf...)
	buf = append(buf, sh.encode()...)
	buf = append(buf, oldEntryBytes...)
	return wrapIO("write undo (entries)", l.writeUndo(buf))
}

func (l *Log) writeUndo(buf []byte) error {
	if _, err := l.undo.WriteAt(buf, 0); err != nil {
		return err
	}
	if err := l.undo.Truncate(int64(len(buf))); err != nil {
		return err
	}
	return l.undo.Sync()
}

func (l *Log) clearUndo() error {
	if err := l.undo.Truncate(0); err != nil {
		return wrapIO("truncate undo", err)
	}
	if err := l.undo.Sync(); err != nil {
		return wrapIO("sync undo", err)
	}
	return nil
}

func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
