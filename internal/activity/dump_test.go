package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDump(t *testing.T) *Dump {
	t.Helper()
	return &Dump{
		logger:        zerolog.Nop(),
		workDir:       t.TempDir(),
		walStagingDir: t.TempDir(),
		walRestoreDir: filepath.Join(t.TempDir(), "restore"),
	}
}

func TestValidateIdent(t *testing.T) {
	assert.NoError(t, validateIdent("tenant_42"))
	assert.NoError(t, validateIdent("acme-corp"))
	assert.Error(t, validateIdent("t; DROP TABLE users"))
	assert.Error(t, validateIdent("a b"))
	assert.Error(t, validateIdent(""))
}

func TestWALSequence(t *testing.T) {
	seq, err := walSequence("000000010000000000000001")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	// Segment number rolls over into the log number.
	next, err := walSequence("0000000100000001000000FF")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1FF), next)

	_, err = walSequence("notasegment")
	require.Error(t, err)
	_, err = walSequence("000000010000000000000001.partial")
	require.Error(t, err)
}

func TestListStagedWALSegments(t *testing.T) {
	d := testDump(t)

	for _, name := range []string{
		"000000010000000000000003",
		"000000010000000000000001",
		"000000010000000000000002",
		"000000010000000000000004.partial", // in-flight, skipped
		"archive_status",                   // not a segment
	} {
		require.NoError(t, os.WriteFile(filepath.Join(d.walStagingDir, name), []byte("wal"), 0640))
	}

	segments, err := d.ListStagedWALSegments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"000000010000000000000001",
		"000000010000000000000002",
		"000000010000000000000003",
	}, segments)
}

func TestListStagedWALSegments_MissingDir(t *testing.T) {
	d := testDump(t)
	d.walStagingDir = filepath.Join(t.TempDir(), "nonexistent")

	segments, err := d.ListStagedWALSegments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestRemoveStagedWALSegment(t *testing.T) {
	d := testDump(t)
	name := "000000010000000000000001"
	path := filepath.Join(d.walStagingDir, name)
	require.NoError(t, os.WriteFile(path, []byte("wal"), 0640))

	require.NoError(t, d.RemoveStagedWALSegment(context.Background(), name))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is a no-op.
	require.NoError(t, d.RemoveStagedWALSegment(context.Background(), name))

	// Traversal attempts are rejected before touching the filesystem.
	require.Error(t, d.RemoveStagedWALSegment(context.Background(), "../etc/passwd"))
}

func TestReplayWALSegments_Contiguous(t *testing.T) {
	d := testDump(t)
	dir := t.TempDir()
	segments := []string{
		"000000010000000000000001",
		"000000010000000000000002",
		"000000010000000000000003",
	}
	for _, name := range segments {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0640))
	}

	err := d.ReplayWALSegments(context.Background(), ReplayWALSegmentsParams{Dir: dir, Segments: segments})
	require.NoError(t, err)

	for _, name := range segments {
		data, err := os.ReadFile(filepath.Join(d.walRestoreDir, name))
		require.NoError(t, err)
		assert.Equal(t, name, string(data))
	}
}

func TestReplayWALSegments_GapFailsClosed(t *testing.T) {
	d := testDump(t)
	dir := t.TempDir()
	segments := []string{
		"000000010000000000000001",
		"000000010000000000000003", // 02 missing
	}
	for _, name := range segments {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0640))
	}

	err := d.ReplayWALSegments(context.Background(), ReplayWALSegmentsParams{Dir: dir, Segments: segments})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wal sequence gap")

	// Nothing was published before the gap was detected.
	entries, readErr := os.ReadDir(d.walRestoreDir)
	if readErr == nil {
		assert.Empty(t, entries)
	}
}

func TestReplayWALSegments_Empty(t *testing.T) {
	d := testDump(t)
	require.NoError(t, d.ReplayWALSegments(context.Background(), ReplayWALSegmentsParams{}))
}

func TestSweepTempFiles(t *testing.T) {
	d := testDump(t)

	stale := filepath.Join(d.workDir, "old.dump")
	fresh := filepath.Join(d.workDir, "new.dump")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0640))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0640))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := d.SweepTempFiles(context.Background(), SweepTempFilesParams{OlderThan: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
