package activity

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// secretLineRe matches config lines assigning credential-like keys, in
// KEY=value, key: value and key = value forms.
var secretLineRe = regexp.MustCompile(`(?i)^(\s*[A-Za-z0-9_.-]*(password|passwd|secret|token|api_key|apikey|private_key)[A-Za-z0-9_.-]*\s*[:=]\s*)(.+)$`)

// ConfigSet contains activities that collect and archive the platform's
// configuration files.
type ConfigSet struct {
	logger zerolog.Logger
}

// NewConfigSet creates a new ConfigSet activity struct.
func NewConfigSet(logger zerolog.Logger) *ConfigSet {
	return &ConfigSet{
		logger: logger.With().Str("component", "config-backup").Logger(),
	}
}

// CollectConfigSetParams holds the parameters for CollectConfigSet.
type CollectConfigSetParams struct {
	// Paths are files or directories to collect.
	Paths  []string
	OutDir string
}

// CollectConfigSet copies the configured files into OutDir, preserving
// relative layout and redacting credential values. Missing paths are
// skipped: a config backup covers whatever exists on this host.
func (c *ConfigSet) CollectConfigSet(ctx context.Context, params CollectConfigSetParams) (int, error) {
	if err := os.MkdirAll(params.OutDir, 0750); err != nil {
		return 0, fmt.Errorf("create collect directory: %w", err)
	}

	var collected int
	for _, path := range params.Paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				c.logger.Debug().Str("path", path).Msg("config path missing, skipping")
				continue
			}
			return collected, fmt.Errorf("stat %s: %w", path, err)
		}

		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, entry os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !entry.Type().IsRegular() {
					return nil
				}
				if err := c.collectFile(p, params.OutDir); err != nil {
					return err
				}
				collected++
				return nil
			})
			if err != nil {
				return collected, fmt.Errorf("collect %s: %w", path, err)
			}
			continue
		}

		if err := c.collectFile(path, params.OutDir); err != nil {
			return collected, fmt.Errorf("collect %s: %w", path, err)
		}
		collected++
	}

	c.logger.Info().Int("files", collected).Msg("collected config set")
	return collected, nil
}

func (c *ConfigSet) collectFile(src, outDir string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	dst := filepath.Join(outDir, strings.TrimPrefix(filepath.ToSlash(src), "/"))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, redactSecrets(data), info.Mode().Perm())
}

// redactSecrets masks credential values line by line. Binary content is
// left untouched.
func redactSecrets(data []byte) []byte {
	if !isText(data) {
		return data
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = secretLineRe.ReplaceAllString(line, "${1}[REDACTED]")
	}
	return []byte(strings.Join(lines, "\n"))
}

func isText(data []byte) bool {
	limit := len(data)
	if limit > 1024 {
		limit = 1024
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return false
		}
	}
	return true
}

// ArchiveTreeParams holds the parameters for ArchiveTree.
type ArchiveTreeParams struct {
	SrcDir  string
	DstPath string
}

// ArchiveTree writes a gzipped tar of SrcDir to DstPath, preserving
// file modes and relative paths.
func (c *ConfigSet) ArchiveTree(ctx context.Context, params ArchiveTreeParams) error {
	stop := startHeartbeat(ctx, params.SrcDir)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(params.DstPath), 0750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	out, err := os.OpenFile(params.DstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", params.DstPath, err)
	}
	defer out.Close()

	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(params.SrcDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(params.SrcDir, path)
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", params.SrcDir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("flush tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush gzip: %w", err)
	}
	return out.Close()
}

// UnarchiveTreeParams holds the parameters for UnarchiveTree.
type UnarchiveTreeParams struct {
	SrcPath string
	DstDir  string
}

// UnarchiveTree extracts a gzipped tar into DstDir. Entries escaping the
// destination are rejected.
func (c *ConfigSet) UnarchiveTree(ctx context.Context, params UnarchiveTreeParams) error {
	stop := startHeartbeat(ctx, params.SrcPath)
	defer stop()

	f, err := os.Open(params.SrcPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", params.SrcPath, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", params.SrcPath, err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dst := filepath.Join(params.DstDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(dst, filepath.Clean(params.DstDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
			return err
		}

		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}
