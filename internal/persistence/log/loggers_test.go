package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"basinflow.ai/internal/session"
)

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "runs")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.NoError(t, w.Write(session.Record{Kind: session.RecordOpen, Session: "a"}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, w.Write(session.Record{Kind: session.RecordClose, Session: "a"}))
	require.NoError(t, w.Close())

	files, err := ListFiles(dir, "runs")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "runs-2026-03-01-10.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "runs-2026-03-01-11.jsonl.zst", filepath.Base(files[1]))

	var kinds []session.RecordKind
	for _, f := range files {
		require.NoError(t, ReadRecords(f, func(r session.Record) error {
			kinds = append(kinds, r.Kind)
			return nil
		}))
	}
	assert.Equal(t, []session.RecordKind{session.RecordOpen, session.RecordClose}, kinds)
}

func TestJSONLZstdWriter_ReopenAppendsFrame(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "runs")
		w.now = fixed
		require.NoError(t, w.Write(session.Record{Kind: session.RecordStart, RunSeq: i + 1, Landscape: []float64{1, 2}}))
		require.NoError(t, w.Close())
	}

	files, err := ListFiles(dir, "runs")
	require.NoError(t, err)
	require.Len(t, files, 1)

	var seqs []int
	require.NoError(t, ReadRecords(files[0], func(r session.Record) error {
		seqs = append(seqs, r.RunSeq)
		assert.Equal(t, []float64{1, 2}, r.Landscape)
		return nil
	}))
	assert.Equal(t, []int{1, 2}, seqs)
}

func TestJournal_Record(t *testing.T) {
	data := t.TempDir()
	j := NewJournal(data, nil)
	j.Record(session.Record{Kind: session.RecordComplete, Session: "s1", Levels: []float64{6, 6, 6}, TotalVolume: 18})
	require.NoError(t, j.Close())
	assert.Zero(t, j.Failures())

	files, err := ListFiles(JournalDir(data), JournalPrefix)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NoError(t, ReadRecords(files[0], func(r session.Record) error {
		assert.Equal(t, "s1", r.Session)
		assert.Equal(t, 18.0, r.TotalVolume)
		return nil
	}))
}

func TestJournal_FailureIsCounted(t *testing.T) {
	// A regular file where the journal directory should be.
	data := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(data, "journal"), []byte("x"), 0o644))

	j := NewJournal(data, nil)
	j.Record(session.Record{Kind: session.RecordOpen})
	assert.Equal(t, 1, j.Failures())
	require.NoError(t, j.Close())
}

func TestListFiles_MissingDir(t *testing.T) {
	_, err := ListFiles(filepath.Join(t.TempDir(), "nope"), "runs")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
