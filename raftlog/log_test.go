package raftlog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cole-miller/refloat/raftlog"
)

func openRecovered(t *testing.T, dir string) *raftlog.Log {
	t.Helper()
	l, err := raftlog.Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Recover())
	return l
}

func TestOpenInitializesEmptyLog(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	defer l.Close()

	require.Equal(t, raftlog.Term(0), l.CurrentTerm())
	require.Equal(t, raftlog.LogIndex(0), l.LastIndex())
	_, voted := l.VotedFor()
	require.False(t, voted)
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	defer l.Close()

	_, err := raftlog.Open(dir)
	require.ErrorIs(t, err, raftlog.ErrLocked)
}

func TestUpdateTermPersistsAndClearsVote(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	defer l.Close()

	require.NoError(t, l.RecordVote(7))
	result, err := l.UpdateTerm(1)
	require.NoError(t, err)
	require.Equal(t, 1, result)

	result, err = l.UpdateTerm(1)
	require.NoError(t, err)
	require.Equal(t, 0, result)

	result, err = l.UpdateTerm(0)
	require.NoError(t, err)
	require.Equal(t, -1, result)

	_, voted := l.VotedFor()
	require.False(t, voted, "advancing the term must clear the prior vote")
}

func TestAppendAndReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)

	var payload [raftlog.PayloadSize]byte
	copy(payload[:], "hello")
	require.NoError(t, l.AppendEntry(raftlog.EntryNormal, 0xABCD, payload))
	require.Equal(t, raftlog.LogIndex(1), l.LastIndex())
	require.NoError(t, l.Close())

	l2 := openRecovered(t, dir)
	defer l2.Close()
	require.Equal(t, raftlog.LogIndex(1), l2.LastIndex())

	entry, err := l2.Entry(1)
	require.NoError(t, err)
	require.Equal(t, raftlog.MsgTag(0xABCD), entry.Tag)
	require.Equal(t, raftlog.EntryNormal, entry.Kind)
	require.Equal(t, byte('h'), entry.Payload[0])
}

func TestTruncateAndAppendOverwritesConflictingTail(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	defer l.Close()

	var p [raftlog.PayloadSize]byte
	require.NoError(t, l.AppendEntry(raftlog.EntryNormal, 1, p))
	require.NoError(t, l.AppendEntry(raftlog.EntryNormal, 2, p))
	require.NoError(t, l.AppendEntry(raftlog.EntryNormal, 3, p))
	require.Equal(t, raftlog.LogIndex(3), l.LastIndex())

	replacement := []raftlog.LogEntry{{TermAdded: 2, Tag: 99, Kind: raftlog.EntryNormal, Payload: p}}
	require.NoError(t, l.TruncateAndAppend(1, replacement))
	require.Equal(t, raftlog.LogIndex(2), l.LastIndex())

	e2, err := l.Entry(2)
	require.NoError(t, err)
	require.Equal(t, raftlog.MsgTag(99), e2.Tag)
	require.Equal(t, raftlog.Term(2), e2.TermAdded)
}

func TestEntryZeroIsImplicitSentinel(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	defer l.Close()

	e, err := l.Entry(0)
	require.NoError(t, err)
	require.Equal(t, raftlog.Term(0), e.TermAdded)
	require.Equal(t, raftlog.Term(0), l.LastTerm())
}

// TestRecoverRestoresHeaderOnlyMutation simulates a crash between "undo
// written" and "primary written" for a header-only mutation (e.g. a bare
// term bump), by hand-crafting the undo file the way mutateHeaderOnly
// would have left it, then recovering.
func TestRecoverRestoresHeaderOnlyMutation(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	require.NoError(t, l.Close())

	// Hand-construct an undo file describing "roll back to term 0,
	// no vote, empty log" while primary already reflects term 5.
	primaryPath := filepath.Join(dir, "primary")
	undoPath := filepath.Join(dir, "undo")

	staleHeader := make([]byte, raftlog.HeaderSize)
	staleHeader[15] = 5 // current_term = 5 in the low byte of word1
	require.NoError(t, os.WriteFile(primaryPath, staleHeader, 0o644))

	oldHeader := make([]byte, raftlog.HeaderSize) // term 0, no vote
	require.NoError(t, os.WriteFile(undoPath, oldHeader, 0o644))

	l2 := openRecovered(t, dir)
	defer l2.Close()
	require.Equal(t, raftlog.Term(0), l2.CurrentTerm())
}

func TestMalformedUndoIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	l := openRecovered(t, dir)
	require.NoError(t, l.Close())

	undoPath := filepath.Join(dir, "undo")
	require.NoError(t, os.WriteFile(undoPath, []byte{1, 2, 3}, 0o644))

	l2 := openRecovered(t, dir)
	defer l2.Close()

	fi, err := os.Stat(undoPath)
	require.NoError(t, err)
	require.Zero(t, fi.Size())
}
