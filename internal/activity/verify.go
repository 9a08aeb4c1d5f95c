package activity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/drvault/internal/codec"
	"github.com/edvin/drvault/internal/storage"
)

// Verify contains activities that check stored artifacts against the
// catalog.
type Verify struct {
	logger  zerolog.Logger
	store   *storage.Replicated
	workDir string
}

// NewVerify creates a new Verify activity struct.
func NewVerify(logger zerolog.Logger, store *storage.Replicated, workDir string) *Verify {
	return &Verify{
		logger:  logger.With().Str("component", "verify").Logger(),
		store:   store,
		workDir: workDir,
	}
}

// VerifyChecksumsParams holds the parameters for VerifyChecksums.
type VerifyChecksumsParams struct {
	BackupID string
	// Paths maps location name to stored key.
	Paths    map[string]string
	Checksum string
}

// VerifyChecksumsResult reports the outcome per location. A missing
// artifact or a digest mismatch is a finding, not an activity error:
// the caller decides how to record it.
type VerifyChecksumsResult struct {
	// Locations maps location name to "ok" or a failure description.
	Locations map[string]string
	Passed    bool
}

const verifyOK = "ok"

// VerifyChecksums downloads every stored copy of an artifact and
// recomputes its digest. This is the full verification a fresh backup
// gets before it is marked verified; the hourly sweep uses the cheap
// ArtifactStat probe instead. Transfer errors other than a missing
// object are returned so the retry policy applies; damaged copies are
// reported in the result.
func (a *Verify) VerifyChecksums(ctx context.Context, params VerifyChecksumsParams) (VerifyChecksumsResult, error) {
	stop := startHeartbeat(ctx, params.BackupID)
	defer stop()

	var mu sync.Mutex
	result := VerifyChecksumsResult{Locations: make(map[string]string, len(params.Paths))}
	report := func(location, outcome string) {
		mu.Lock()
		result.Locations[location] = outcome
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for location, key := range params.Paths {
		g.Go(func() error {
			tmp := filepath.Join(a.workDir, "verify-"+uuid.NewString())
			defer os.Remove(tmp)

			backend, err := a.store.ByLocation(location)
			if err != nil {
				return err
			}
			if err := backend.Download(gctx, key, tmp); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					report(location, "artifact missing")
					return nil
				}
				return fmt.Errorf("download %s from %s: %w", key, location, err)
			}

			data, err := os.ReadFile(tmp)
			if err != nil {
				return fmt.Errorf("read downloaded copy: %w", err)
			}
			if digest := codec.Checksum(data); digest != params.Checksum {
				report(location, fmt.Sprintf("checksum mismatch: got %s, want %s", digest, params.Checksum))
				return nil
			}

			a.logger.Debug().Str("backup_id", params.BackupID).Str("location", location).Msg("checksum verified")
			report(location, verifyOK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return VerifyChecksumsResult{}, err
	}

	result.Passed = true
	for _, outcome := range result.Locations {
		if outcome != verifyOK {
			result.Passed = false
		}
	}
	return result, nil
}
