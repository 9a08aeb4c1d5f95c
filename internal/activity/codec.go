package activity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/drvault/internal/codec"
)

// Codec contains activities that run the artifact pipeline: compress,
// encrypt and checksum on the way out, verify, decrypt and decompress
// on the way back.
type Codec struct {
	logger zerolog.Logger
	codec  *codec.Codec
}

// NewCodec creates a new Codec activity struct.
func NewCodec(logger zerolog.Logger, c *codec.Codec) *Codec {
	return &Codec{
		logger: logger.With().Str("component", "codec").Logger(),
		codec:  c,
	}
}

// EncodeFileParams holds the parameters for EncodeFile.
type EncodeFileParams struct {
	SrcPath string
	DstPath string
}

// EncodeFileResult reports the encoded artifact's measurements.
type EncodeFileResult struct {
	SizeBytes        int64
	Checksum         string
	CompressionRatio float64
}

// EncodeFile turns a raw dump file into an encoded artifact.
func (a *Codec) EncodeFile(ctx context.Context, params EncodeFileParams) (EncodeFileResult, error) {
	stop := startHeartbeat(ctx, params.SrcPath)
	defer stop()

	data, err := os.ReadFile(params.SrcPath)
	if err != nil {
		return EncodeFileResult{}, fmt.Errorf("read %s: %w", params.SrcPath, err)
	}

	artifact, digest, ratio, err := a.codec.Encode(data)
	if err != nil {
		return EncodeFileResult{}, fmt.Errorf("encode %s: %w", params.SrcPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(params.DstPath), 0750); err != nil {
		return EncodeFileResult{}, fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(params.DstPath, artifact, 0640); err != nil {
		return EncodeFileResult{}, fmt.Errorf("write %s: %w", params.DstPath, err)
	}

	a.logger.Info().
		Str("artifact", params.DstPath).
		Int64("size", int64(len(artifact))).
		Float64("compression_ratio", ratio).
		Msg("encoded artifact")

	return EncodeFileResult{
		SizeBytes:        int64(len(artifact)),
		Checksum:         digest,
		CompressionRatio: ratio,
	}, nil
}

// DecodeFileParams holds the parameters for DecodeFile.
type DecodeFileParams struct {
	SrcPath  string
	DstPath  string
	Checksum string
}

// DecodeFile verifies and decodes an artifact back into a raw dump
// file. Integrity failures are non-retryable: a corrupt artifact stays
// corrupt, the caller must fail over to another copy.
func (a *Codec) DecodeFile(ctx context.Context, params DecodeFileParams) error {
	stop := startHeartbeat(ctx, params.SrcPath)
	defer stop()

	artifact, err := os.ReadFile(params.SrcPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", params.SrcPath, err)
	}

	data, err := a.codec.Decode(artifact, params.Checksum)
	if err != nil {
		if errors.Is(err, codec.ErrDigestMismatch) ||
			errors.Is(err, codec.ErrDecryptFailed) ||
			errors.Is(err, codec.ErrCorruptArtifact) {
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("decode %s: %v", params.SrcPath, err), "CorruptArtifact", err)
		}
		return fmt.Errorf("decode %s: %w", params.SrcPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(params.DstPath), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(params.DstPath, data, 0640); err != nil {
		return fmt.Errorf("write %s: %w", params.DstPath, err)
	}
	return nil
}
