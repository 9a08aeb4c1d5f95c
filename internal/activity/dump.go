package activity

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/drvault/internal/config"
)

// walSegmentRe matches a Postgres WAL segment filename: 24 uppercase hex
// characters (timeline + log + segment).
var walSegmentRe = regexp.MustCompile(`^[0-9A-F]{24}$`)

// validIdentRe matches only alphanumeric characters, underscores and
// dashes. This prevents shell and SQL injection in tenant IDs and table
// names built into commands.
var validIdentRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// restoreJobs is the pg_restore parallelism for full restores.
const restoreJobs = 4

// Dump contains activities that run pg_dump, pg_restore and psql
// against the source database.
type Dump struct {
	logger        zerolog.Logger
	sourceDSN     string
	workDir       string
	walStagingDir string
	walRestoreDir string
}

// NewDump creates a new Dump activity struct.
func NewDump(logger zerolog.Logger, cfg *config.Config) *Dump {
	return &Dump{
		logger:        logger.With().Str("component", "dump").Logger(),
		sourceDSN:     cfg.SourceDatabaseURL,
		workDir:       cfg.WorkDir,
		walStagingDir: cfg.WALStagingDir,
		walRestoreDir: cfg.WALRestoreDir,
	}
}

func validateIdent(name string) error {
	if !validIdentRe.MatchString(name) {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid identifier %q: only alphanumeric, underscore and dash allowed", name),
			"InvalidIdentifier", nil)
	}
	return nil
}

// FullDump writes a pg_dump custom-format archive of the whole source
// database to outPath.
func (d *Dump) FullDump(ctx context.Context, outPath string) error {
	stop := startHeartbeat(ctx, "pg_dump")
	defer stop()

	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}

	d.logger.Info().Str("path", outPath).Msg("running full database dump")

	cmd := exec.CommandContext(ctx, "pg_dump",
		"--format=custom",
		"--no-owner",
		"--dbname", d.sourceDSN,
		"--file", outPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("pg_dump failed: %s: %w", string(output), err)
	}
	return nil
}

// psqlCapture runs a single SQL statement through psql and returns its
// unaligned tuple-only output.
func (d *Dump) psqlCapture(ctx context.Context, sql string) (string, error) {
	cmd := exec.CommandContext(ctx, "psql", "--dbname", d.sourceDSN, "-Atc", sql)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("psql failed: %s: %w", string(output), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// psqlExec runs psql commands from a script string. Used for \copy,
// which is a psql meta-command and cannot go through -c alone when
// combined with SQL.
func (d *Dump) psqlExec(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "psql", "--dbname", d.sourceDSN, "--set", "ON_ERROR_STOP=1")
	cmd.Stdin = strings.NewReader(script)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("psql failed: %s: %w", string(output), err)
	}
	return nil
}

// tenantTables returns the public tables carrying a tenant_id column,
// the slice a per-tenant export consists of.
func (d *Dump) tenantTables(ctx context.Context) ([]string, error) {
	out, err := d.psqlCapture(ctx,
		`SELECT table_name FROM information_schema.columns
		 WHERE table_schema = 'public' AND column_name = 'tenant_id'
		 ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tenant tables: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// TenantExportParams holds the parameters for TenantExport.
type TenantExportParams struct {
	TenantID string
	OutDir   string
}

// TenantExport writes one CSV per tenant-scoped table, filtered to the
// given tenant, into OutDir. The caller archives the directory.
func (d *Dump) TenantExport(ctx context.Context, params TenantExportParams) error {
	stop := startHeartbeat(ctx, params.TenantID)
	defer stop()

	if err := validateIdent(params.TenantID); err != nil {
		return err
	}
	if err := os.MkdirAll(params.OutDir, 0750); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tables, err := d.tenantTables(ctx)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return temporal.NewNonRetryableApplicationError(
			"source database has no tenant-scoped tables", "NoTenantTables", nil)
	}

	d.logger.Info().Str("tenant", params.TenantID).Int("tables", len(tables)).Msg("exporting tenant data")

	for _, table := range tables {
		if err := validateIdent(table); err != nil {
			return err
		}
		csvPath := filepath.Join(params.OutDir, table+".csv")
		script := fmt.Sprintf(
			`\copy (SELECT * FROM %q WHERE tenant_id = '%s') TO '%s' WITH CSV HEADER`,
			table, params.TenantID, csvPath)
		if err := d.psqlExec(ctx, script); err != nil {
			return fmt.Errorf("export table %s for tenant %s: %w", table, params.TenantID, err)
		}
	}
	return nil
}

// ListStagedWALSegments returns the WAL segment filenames waiting in the
// staging directory, in sequence order. Non-segment files are ignored.
func (d *Dump) ListStagedWALSegments(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.walStagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read wal staging directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && walSegmentRe.MatchString(entry.Name()) {
			segments = append(segments, entry.Name())
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (d *Dump) StagedWALSegmentPath(name string) (string, error) {
	if !walSegmentRe.MatchString(name) {
		return "", temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid wal segment name %q", name), "InvalidWALSegment", nil)
	}
	return filepath.Join(d.walStagingDir, name), nil
}

// RemoveStagedWALSegment deletes one archived segment from staging.
func (d *Dump) RemoveStagedWALSegment(ctx context.Context, name string) error {
	if !walSegmentRe.MatchString(name) {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid wal segment name %q", name), "InvalidWALSegment", nil)
	}
	if err := os.Remove(filepath.Join(d.walStagingDir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged wal segment %s: %w", name, err)
	}
	return nil
}

// RestoreFull loads a pg_dump custom-format archive into the source
// database, replacing existing objects.
func (d *Dump) RestoreFull(ctx context.Context, dumpPath string) error {
	stop := startHeartbeat(ctx, "pg_restore")
	defer stop()

	d.logger.Info().Str("path", dumpPath).Msg("running full database restore")

	cmd := exec.CommandContext(ctx, "pg_restore",
		"--clean",
		"--if-exists",
		"--no-owner",
		"--jobs", strconv.Itoa(restoreJobs),
		"--dbname", d.sourceDSN,
		dumpPath,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pg_restore failed: %s: %w", string(output), err)
	}
	return nil
}

// RestoreMergeParams holds the parameters for RestoreMerge.
type RestoreMergeParams struct {
	// ExportDir holds the per-table CSVs of a tenant export.
	ExportDir string
	TenantID  string
}

// RestoreMerge applies a tenant export on top of existing data without
// wiping it. Each table is loaded into a staging schema and merged with
// last-write-wins on updated_at; tables without updated_at are
// insert-only and existing rows win.
func (d *Dump) RestoreMerge(ctx context.Context, params RestoreMergeParams) error {
	stop := startHeartbeat(ctx, params.TenantID)
	defer stop()

	if err := validateIdent(params.TenantID); err != nil {
		return err
	}

	entries, err := os.ReadDir(params.ExportDir)
	if err != nil {
		return fmt.Errorf("read export directory: %w", err)
	}

	d.logger.Info().Str("tenant", params.TenantID).Msg("merging tenant export")

	if err := d.psqlExec(ctx, "CREATE SCHEMA IF NOT EXISTS merge_stage;"); err != nil {
		return fmt.Errorf("create merge schema: %w", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		table := strings.TrimSuffix(entry.Name(), ".csv")
		if err := validateIdent(table); err != nil {
			return err
		}
		if err := d.mergeTable(ctx, table, filepath.Join(params.ExportDir, entry.Name())); err != nil {
			return fmt.Errorf("merge table %s: %w", table, err)
		}
	}

	return d.psqlExec(ctx, "DROP SCHEMA IF EXISTS merge_stage CASCADE;")
}

func (d *Dump) mergeTable(ctx context.Context, table, csvPath string) error {
	columns, err := d.psqlCapture(ctx, fmt.Sprintf(
		`SELECT string_agg(quote_ident(column_name), ',' ORDER BY ordinal_position)
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = '%s'`, table))
	if err != nil {
		return err
	}
	if columns == "" {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("table %s does not exist in target database", table), "UnknownTable", nil)
	}

	hasUpdatedAt, err := d.psqlCapture(ctx, fmt.Sprintf(
		`SELECT count(*) FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = '%s' AND column_name = 'updated_at'`, table))
	if err != nil {
		return err
	}

	setList := make([]string, 0)
	for _, col := range strings.Split(columns, ",") {
		if col == "id" {
			continue
		}
		setList = append(setList, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	conflict := "ON CONFLICT (id) DO NOTHING"
	if hasUpdatedAt == "1" && len(setList) > 0 {
		conflict = fmt.Sprintf(
			"ON CONFLICT (id) DO UPDATE SET %s WHERE excluded.updated_at > %q.updated_at",
			strings.Join(setList, ", "), table)
	}

	script := fmt.Sprintf(`
CREATE TABLE merge_stage.%q (LIKE public.%q INCLUDING DEFAULTS);
\copy merge_stage.%q FROM '%s' WITH CSV HEADER
INSERT INTO public.%q SELECT * FROM merge_stage.%q %s;
DROP TABLE merge_stage.%q;
`, table, table, table, csvPath, table, table, conflict, table)

	return d.psqlExec(ctx, script)
}

// ReplayWALSegmentsParams holds the parameters for ReplayWALSegments.
type ReplayWALSegmentsParams struct {
	// Dir holds the decoded segment files named by segment filename.
	Dir      string
	Segments []string
}

// ReplayWALSegments places a strictly contiguous ascending run of WAL
// segments into the restore directory the database's restore_command
// reads from. A gap in the sequence aborts before any segment is
// published: replaying past a gap would corrupt the timeline.
func (d *Dump) ReplayWALSegments(ctx context.Context, params ReplayWALSegmentsParams) error {
	if len(params.Segments) == 0 {
		return nil
	}

	seqs := make([]uint64, len(params.Segments))
	for i, name := range params.Segments {
		seq, err := walSequence(name)
		if err != nil {
			return err
		}
		seqs[i] = seq
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			return temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("wal sequence gap between %s and %s", params.Segments[i-1], params.Segments[i]),
				"WALSequenceGap", nil)
		}
	}

	if err := os.MkdirAll(d.walRestoreDir, 0750); err != nil {
		return fmt.Errorf("create wal restore directory: %w", err)
	}
	for _, name := range params.Segments {
		src := filepath.Join(params.Dir, name)
		dst := filepath.Join(d.walRestoreDir, name)
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("publish wal segment %s: %w", name, err)
		}
	}

	d.logger.Info().Int("segments", len(params.Segments)).Msg("published wal segments for replay")
	return nil
}

// walSequence decodes a segment filename into its position on the
// timeline: log number times 256 plus segment number.
func walSequence(name string) (uint64, error) {
	if !walSegmentRe.MatchString(name) {
		return 0, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid wal segment name %q", name), "InvalidWALSegment", nil)
	}
	logNo, err := strconv.ParseUint(name[8:16], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wal log number: %w", err)
	}
	segNo, err := strconv.ParseUint(name[16:24], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse wal segment number: %w", err)
	}
	return logNo*0x100 + segNo, nil
}

// CountLiveRows reports the live tuple count across user tables, used
// for the rows_restored audit field.
func (d *Dump) CountLiveRows(ctx context.Context) (int64, error) {
	out, err := d.psqlCapture(ctx, "SELECT coalesce(sum(n_live_tup), 0) FROM pg_stat_user_tables")
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse row count %q: %w", out, err)
	}
	return n, nil
}

// ListSourceTenantIDs returns every tenant ID in the source database.
// The reason is logged: this is an elevated cross-tenant read.
func (d *Dump) ListSourceTenantIDs(ctx context.Context, reason string) ([]string, error) {
	d.logger.Info().Str("reason", reason).Msg("listing all tenant ids")
	out, err := d.psqlCapture(ctx, "SELECT id FROM tenants ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// SweepTempFilesParams holds the parameters for SweepTempFiles.
type SweepTempFilesParams struct {
	OlderThan time.Duration
}

// SweepTempFiles removes working files older than the cutoff from the
// scratch directory and returns how many were deleted.
func (d *Dump) SweepTempFiles(ctx context.Context, params SweepTempFilesParams) (int, error) {
	cutoff := time.Now().Add(-params.OlderThan)
	var removed int

	err := filepath.WalkDir(d.workDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("sweep temp files: %w", err)
	}

	if removed > 0 {
		d.logger.Info().Int("removed", removed).Msg("swept stale temp files")
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".partial"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
