package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/drvault/internal/codec"
	"github.com/edvin/drvault/internal/model"
	"github.com/edvin/drvault/internal/storage"
)

// verifyFixture backs a Verify activity with three filesystem stores so
// checksums run against real files.
type verifyFixture struct {
	verify *Verify
	roots  map[string]string
}

func newVerifyFixture(t *testing.T) *verifyFixture {
	t.Helper()
	logger := zerolog.Nop()
	roots := map[string]string{
		model.LocationLocal:   t.TempDir(),
		model.LocationRemoteA: t.TempDir(),
		model.LocationRemoteB: t.TempDir(),
	}
	store := storage.NewReplicated(logger,
		storage.NewLocal(logger, roots[model.LocationLocal], 0),
		storage.NewLocal(logger, roots[model.LocationRemoteA], 0),
		storage.NewLocal(logger, roots[model.LocationRemoteB], 0),
	)
	return &verifyFixture{
		verify: NewVerify(logger, store, t.TempDir()),
		roots:  roots,
	}
}

func (f *verifyFixture) stage(t *testing.T, location, key string, data []byte) {
	t.Helper()
	path := filepath.Join(f.roots[location], key)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, data, 0640))
}

func TestVerifyChecksums_AllCopiesMatch(t *testing.T) {
	f := newVerifyFixture(t)
	data := []byte("encrypted artifact body")
	f.stage(t, model.LocationRemoteA, "full/bk-1.enc", data)
	f.stage(t, model.LocationRemoteB, "full/bk-1.enc", data)

	result, err := f.verify.VerifyChecksums(context.Background(), VerifyChecksumsParams{
		BackupID: "bk-1",
		Paths: map[string]string{
			model.LocationRemoteA: "full/bk-1.enc",
			model.LocationRemoteB: "full/bk-1.enc",
		},
		Checksum: codec.Checksum(data),
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, "ok", result.Locations[model.LocationRemoteA])
	assert.Equal(t, "ok", result.Locations[model.LocationRemoteB])
}

func TestVerifyChecksums_TamperedCopyReported(t *testing.T) {
	f := newVerifyFixture(t)
	data := []byte("encrypted artifact body")
	f.stage(t, model.LocationRemoteA, "full/bk-1.enc", data)
	f.stage(t, model.LocationRemoteB, "full/bk-1.enc", []byte("encrypted artifact bodY"))

	result, err := f.verify.VerifyChecksums(context.Background(), VerifyChecksumsParams{
		BackupID: "bk-1",
		Paths: map[string]string{
			model.LocationRemoteA: "full/bk-1.enc",
			model.LocationRemoteB: "full/bk-1.enc",
		},
		Checksum: codec.Checksum(data),
	})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "ok", result.Locations[model.LocationRemoteA])
	assert.Contains(t, result.Locations[model.LocationRemoteB], "checksum mismatch")
}

func TestVerifyChecksums_MissingCopyIsAFindingNotAnError(t *testing.T) {
	f := newVerifyFixture(t)
	data := []byte("encrypted artifact body")
	f.stage(t, model.LocationRemoteA, "full/bk-1.enc", data)

	result, err := f.verify.VerifyChecksums(context.Background(), VerifyChecksumsParams{
		BackupID: "bk-1",
		Paths: map[string]string{
			model.LocationRemoteA: "full/bk-1.enc",
			model.LocationRemoteB: "full/bk-1.enc",
		},
		Checksum: codec.Checksum(data),
	})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "artifact missing", result.Locations[model.LocationRemoteB])
}
