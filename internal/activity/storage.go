package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/drvault/internal/metrics"
	"github.com/edvin/drvault/internal/storage"
)

// Storage contains activities that move artifacts between the worker
// and the three backup stores.
type Storage struct {
	logger zerolog.Logger
	store  *storage.Replicated
}

// NewStorage creates a new Storage activity struct.
func NewStorage(logger zerolog.Logger, store *storage.Replicated) *Storage {
	return &Storage{
		logger: logger.With().Str("component", "storage-activity").Logger(),
		store:  store,
	}
}

// UploadArtifactParams holds the parameters for UploadArtifact.
type UploadArtifactParams struct {
	LocalPath string
	Key       string
	// IncludeLocal selects whether the local store joins the fan-out.
	// WAL segments skip it and go remote-only.
	IncludeLocal bool
	// MinSuccess is how many targets must accept the artifact before the
	// upload counts as successful.
	MinSuccess int
}

// UploadArtifact fans an artifact out to the backup stores.
func (a *Storage) UploadArtifact(ctx context.Context, params UploadArtifactParams) (storage.UploadResult, error) {
	stop := startHeartbeat(ctx, params.Key)
	defer stop()

	result, err := a.store.Upload(ctx, params.LocalPath, params.Key, params.IncludeLocal, params.MinSuccess)
	for location := range result.Paths {
		size, sizeErr := a.sizeAt(ctx, location, params.Key)
		if sizeErr == nil {
			metrics.ArtifactBytes.WithLabelValues(location).Add(float64(size))
		}
	}
	for location := range result.Errors {
		metrics.UploadFailures.WithLabelValues(location).Inc()
	}
	return result, err
}

func (a *Storage) sizeAt(ctx context.Context, location, key string) (int64, error) {
	backend, err := a.store.ByLocation(location)
	if err != nil {
		return 0, err
	}
	return backend.Size(ctx, key)
}

// DownloadArtifactParams holds the parameters for DownloadArtifact.
type DownloadArtifactParams struct {
	// Paths maps location name to stored key, from the catalog record.
	Paths     map[string]string
	LocalPath string
}

// DownloadArtifact fetches an artifact through the failover chain and
// returns the location that served it.
func (a *Storage) DownloadArtifact(ctx context.Context, params DownloadArtifactParams) (string, error) {
	stop := startHeartbeat(ctx, params.LocalPath)
	defer stop()

	return a.store.Download(ctx, params.Paths, params.LocalPath)
}

// DeleteArtifactLocationParams holds the parameters for DeleteArtifactLocation.
type DeleteArtifactLocationParams struct {
	Location string
	Key      string
}

// DeleteArtifactLocation removes one stored copy of an artifact.
func (a *Storage) DeleteArtifactLocation(ctx context.Context, params DeleteArtifactLocationParams) error {
	backend, err := a.store.ByLocation(params.Location)
	if err != nil {
		return err
	}
	return backend.Delete(ctx, params.Key)
}

// ArtifactStatParams holds the parameters for ArtifactStat.
type ArtifactStatParams struct {
	Location string
	Key      string
}

// ArtifactStatResult reports existence and size of one stored copy.
type ArtifactStatResult struct {
	Exists    bool
	SizeBytes int64
}

// ArtifactStat checks one stored copy without downloading it. This is
// the cheap existence and size probe the integrity sweep runs on.
func (a *Storage) ArtifactStat(ctx context.Context, params ArtifactStatParams) (ArtifactStatResult, error) {
	backend, err := a.store.ByLocation(params.Location)
	if err != nil {
		return ArtifactStatResult{}, err
	}

	size, err := backend.Size(ctx, params.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ArtifactStatResult{Exists: false}, nil
		}
		return ArtifactStatResult{}, fmt.Errorf("stat %s on %s: %w", params.Key, params.Location, err)
	}
	return ArtifactStatResult{Exists: true, SizeBytes: size}, nil
}

// LocationUsage reports one store's consumption.
type LocationUsage struct {
	UsedBytes  int64
	TotalBytes int64
}

// StorageUsage returns used and total bytes per location for the
// capacity monitor.
func (a *Storage) StorageUsage(ctx context.Context) (map[string]LocationUsage, error) {
	usage := make(map[string]LocationUsage, 3)
	for location, backend := range a.store.Backends() {
		used, total, err := backend.Usage(ctx)
		if err != nil {
			return nil, fmt.Errorf("usage of %s: %w", location, err)
		}
		usage[location] = LocationUsage{UsedBytes: used, TotalBytes: total}
	}
	return usage, nil
}
