package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// UploadResult reports the per-location outcome of a fan-out upload.
// Paths maps location name to the stored key; Errors maps location name
// to the failure for targets that did not accept the artifact.
type UploadResult struct {
	Paths  map[string]string
	Errors map[string]string
}

// Replicated coordinates the three backends: fan-out uploads and ordered
// failover downloads. Backend selection happens once, at construction;
// callers never pick a backend per call-site.
type Replicated struct {
	logger  zerolog.Logger
	local   Backend
	remoteA Backend
	remoteB Backend
}

func NewReplicated(logger zerolog.Logger, local, remoteA, remoteB Backend) *Replicated {
	return &Replicated{
		logger:  logger.With().Str("component", "storage").Logger(),
		local:   local,
		remoteA: remoteA,
		remoteB: remoteB,
	}
}

// ByLocation returns the backend serving the given location name.
func (r *Replicated) ByLocation(location string) (Backend, error) {
	switch location {
	case "local":
		return r.local, nil
	case "remote_a":
		return r.remoteA, nil
	case "remote_b":
		return r.remoteB, nil
	}
	return nil, fmt.Errorf("unknown storage location %q", location)
}

// Backends returns all backends keyed by location name.
func (r *Replicated) Backends() map[string]Backend {
	return map[string]Backend{
		"local":    r.local,
		"remote_a": r.remoteA,
		"remote_b": r.remoteB,
	}
}

// Upload fans the artifact out to the selected targets concurrently.
// Partial failures are recorded per target and do not abort the upload;
// the call fails only when fewer than minSuccess targets accepted the
// artifact. includeLocal=false restricts the fan-out to the two remote
// stores (WAL segment cost policy).
func (r *Replicated) Upload(ctx context.Context, localPath, key string, includeLocal bool, minSuccess int) (UploadResult, error) {
	targets := map[string]Backend{
		"remote_a": r.remoteA,
		"remote_b": r.remoteB,
	}
	if includeLocal {
		targets["local"] = r.local
	}

	result := UploadResult{
		Paths:  make(map[string]string),
		Errors: make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for location, backend := range targets {
		wg.Add(1)
		go func(location string, backend Backend) {
			defer wg.Done()
			err := backend.Upload(ctx, localPath, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[location] = err.Error()
				r.logger.Warn().Err(err).Str("location", location).Str("key", key).Msg("upload target failed")
				return
			}
			result.Paths[location] = key
		}(location, backend)
	}
	wg.Wait()

	if len(result.Paths) < minSuccess {
		return result, fmt.Errorf("upload %s: %d of %d targets succeeded, need %d",
			key, len(result.Paths), len(targets), minSuccess)
	}
	return result, nil
}

// Download fetches the artifact through the failover chain
// remoteA -> remoteB -> local, restricted to the locations that hold a
// path. The first success short-circuits and its location name is
// returned; exhausting the chain is fatal.
func (r *Replicated) Download(ctx context.Context, paths map[string]string, localPath string) (string, error) {
	chain := []struct {
		location string
		backend  Backend
	}{
		{"remote_a", r.remoteA},
		{"remote_b", r.remoteB},
		{"local", r.local},
	}

	var lastErr error
	for _, link := range chain {
		key, ok := paths[link.location]
		if !ok {
			continue
		}
		if err := link.backend.Download(ctx, key, localPath); err != nil {
			lastErr = err
			r.logger.Warn().Err(err).Str("location", link.location).Str("key", key).Msg("download source failed, trying next")
			continue
		}
		r.logger.Info().Str("location", link.location).Str("key", key).Msg("downloaded artifact")
		return link.location, nil
	}

	if lastErr == nil {
		return "", fmt.Errorf("download: no storage location holds the artifact")
	}
	return "", fmt.Errorf("download: all storage locations failed: %w", lastErr)
}
