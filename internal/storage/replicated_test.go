package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records calls and serves canned errors per key.
type fakeBackend struct {
	mu        sync.Mutex
	name      string
	uploadErr error
	dlErr     error
	uploads   []string
	downloads []string
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Upload(ctx context.Context, localPath, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, key)
	return f.uploadErr
}

func (f *fakeBackend) Download(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, key)
	return f.dlErr
}

func (f *fakeBackend) Exists(ctx context.Context, key string) (bool, error) { return false, nil }
func (f *fakeBackend) Delete(ctx context.Context, key string) error         { return nil }
func (f *fakeBackend) Size(ctx context.Context, key string) (int64, error)  { return 0, nil }
func (f *fakeBackend) Usage(ctx context.Context) (int64, int64, error)      { return 0, 0, nil }

func newTestReplicated() (*Replicated, *fakeBackend, *fakeBackend, *fakeBackend) {
	local := &fakeBackend{name: "local"}
	remoteA := &fakeBackend{name: "remote_a"}
	remoteB := &fakeBackend{name: "remote_b"}
	return NewReplicated(zerolog.Nop(), local, remoteA, remoteB), local, remoteA, remoteB
}

func TestReplicatedUpload_AllTargets(t *testing.T) {
	r, local, remoteA, remoteB := newTestReplicated()

	result, err := r.Upload(context.Background(), "/tmp/a", "bk-1.enc", true, 1)
	require.NoError(t, err)

	assert.Len(t, result.Paths, 3)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"bk-1.enc"}, local.uploads)
	assert.Equal(t, []string{"bk-1.enc"}, remoteA.uploads)
	assert.Equal(t, []string{"bk-1.enc"}, remoteB.uploads)
}

func TestReplicatedUpload_PartialFailureSucceeds(t *testing.T) {
	r, _, remoteA, _ := newTestReplicated()
	remoteA.uploadErr = errors.New("connection refused")

	result, err := r.Upload(context.Background(), "/tmp/a", "bk-1.enc", true, 1)
	require.NoError(t, err)

	assert.Len(t, result.Paths, 2)
	assert.Contains(t, result.Errors, "remote_a")
	assert.NotContains(t, result.Paths, "remote_a")
}

func TestReplicatedUpload_BelowMinSuccessFails(t *testing.T) {
	r, _, remoteA, remoteB := newTestReplicated()
	remoteA.uploadErr = errors.New("connection refused")
	remoteB.uploadErr = errors.New("access denied")

	// WAL segments are remote-only and need both remotes.
	result, err := r.Upload(context.Background(), "/tmp/w", "wal/000000010000000000000042", false, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 of 2 targets succeeded, need 2")
	assert.Len(t, result.Errors, 2)
}

func TestReplicatedUpload_ExcludesLocal(t *testing.T) {
	r, local, _, _ := newTestReplicated()

	result, err := r.Upload(context.Background(), "/tmp/w", "wal/seg", false, 2)
	require.NoError(t, err)

	assert.Empty(t, local.uploads)
	assert.Len(t, result.Paths, 2)
}

func TestReplicatedDownload_PrefersRemoteA(t *testing.T) {
	r, local, remoteA, remoteB := newTestReplicated()
	paths := map[string]string{"local": "bk-1.enc", "remote_a": "bk-1.enc", "remote_b": "bk-1.enc"}

	source, err := r.Download(context.Background(), paths, "/tmp/out")
	require.NoError(t, err)

	assert.Equal(t, "remote_a", source)
	assert.Empty(t, remoteB.downloads)
	assert.Empty(t, local.downloads)
	assert.Len(t, remoteA.downloads, 1)
}

func TestReplicatedDownload_FailsOverToRemoteB(t *testing.T) {
	r, _, remoteA, remoteB := newTestReplicated()
	remoteA.dlErr = errors.New("connection refused")
	paths := map[string]string{"remote_a": "bk-1.enc", "remote_b": "bk-1.enc"}

	source, err := r.Download(context.Background(), paths, "/tmp/out")
	require.NoError(t, err)

	assert.Equal(t, "remote_b", source)
	assert.Len(t, remoteA.downloads, 1)
	assert.Len(t, remoteB.downloads, 1)
}

func TestReplicatedDownload_SkipsLocationsWithoutPath(t *testing.T) {
	r, local, remoteA, _ := newTestReplicated()
	paths := map[string]string{"local": "bk-1.enc"}

	source, err := r.Download(context.Background(), paths, "/tmp/out")
	require.NoError(t, err)

	assert.Equal(t, "local", source)
	assert.Empty(t, remoteA.downloads)
	assert.Len(t, local.downloads, 1)
}

func TestReplicatedDownload_AllFail(t *testing.T) {
	r, local, remoteA, remoteB := newTestReplicated()
	remoteA.dlErr = errors.New("connection refused")
	remoteB.dlErr = errors.New("access denied")
	local.dlErr = ErrNotFound
	paths := map[string]string{"local": "k", "remote_a": "k", "remote_b": "k"}

	_, err := r.Download(context.Background(), paths, "/tmp/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all storage locations failed")
}

func TestReplicatedDownload_NoLocationHoldsArtifact(t *testing.T) {
	r, _, _, _ := newTestReplicated()

	_, err := r.Download(context.Background(), map[string]string{}, "/tmp/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no storage location holds the artifact")
}

func TestByLocation(t *testing.T) {
	r, local, remoteA, remoteB := newTestReplicated()

	for location, want := range map[string]Backend{
		"local":    local,
		"remote_a": remoteA,
		"remote_b": remoteB,
	} {
		got, err := r.ByLocation(location)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}

	_, err := r.ByLocation("remote_c")
	assert.Error(t, err)
}
