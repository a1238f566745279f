// Package dataset implements the packaging engine: it aggregates per-cell
// data mappings into one dataset, detects destination collisions before any
// mutation, transfers files, hashes them, merges metadata, generates the
// derived artifacts and validates the result against its manifest.
package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/csiro-fair/marimba/internal/exif"
	"github.com/csiro-fair/marimba/internal/models"
)

// Artifact filenames reserved under the dataset root. Data mappings may not
// target them.
const (
	ManifestFilename = "manifest.txt"
	MetadataFilename = "metadata.yml"
	SummaryFilename  = "summary.md"
	OverviewFilename = "overview.html"
	InvalidMarker    = "INVALID"
	LogsDirname      = "logs"
	PipelinesDirname = "pipelines"
)

// Dataset is a dataset directory wrapper. A dataset is created once per
// packaging run and immutable once validation succeeds; a failed validation
// leaves it on disk marked invalid for inspection.
type Dataset struct {
	name    string
	version string
	contact string
	root    string
	logger  *slog.Logger
}

// PopulateOptions configures a packaging run.
type PopulateOptions struct {
	// Mode is the file transfer mode. Move consumes source files; if a
	// later step fails validation the sources are already gone, a
	// documented limitation with no automatic rollback.
	Mode models.Operation

	// Workers bounds concurrent transfers and hashing; defaults to the
	// host's available parallelism.
	Workers int

	// PipelinesDir, when set, is snapshotted into the dataset for
	// provenance.
	PipelinesDir string

	// LogPaths are log files aggregated into the dataset's logs dir.
	LogPaths []string
}

// CheckMapping verifies the aggregate mapping before any filesystem
// mutation: sources must exist as absolute paths, destinations must be
// clean relative paths that stay inside the dataset root and avoid reserved
// artifact names, and no two cells may claim the same destination. A
// collision aborts packaging before the dataset root is even created.
func CheckMapping(cells []models.CellMapping) error {
	claimed := make(map[string]string) // destination -> "pipeline/collection"
	var collisions []models.Collision

	for _, cell := range cells {
		cellID := cell.Pipeline + "/" + cell.Collection
		for _, src := range cell.Mapping.SortedSources() {
			entry := cell.Mapping[src]

			if !filepath.IsAbs(src) {
				return fmt.Errorf("cell %s: source %q is not absolute", cellID, src)
			}
			if _, err := os.Stat(src); err != nil {
				return fmt.Errorf("cell %s: source %q: %w", cellID, src, err)
			}

			dst := filepath.ToSlash(entry.Destination)
			if dst == "" || strings.HasPrefix(dst, "/") || dst != filepath.ToSlash(filepath.Clean(dst)) || strings.HasPrefix(dst, "..") {
				return fmt.Errorf("cell %s: destination %q is not a clean relative path", cellID, entry.Destination)
			}
			if reservedDestination(dst) {
				return fmt.Errorf("cell %s: destination %q collides with a reserved dataset artifact", cellID, entry.Destination)
			}

			if first, ok := claimed[dst]; ok {
				collisions = append(collisions, models.Collision{
					Destination: dst,
					FirstCell:   first,
					SecondCell:  cellID,
				})
				continue
			}
			claimed[dst] = cellID
		}
	}

	if len(collisions) > 0 {
		return &models.PackagingCollisionError{Collisions: collisions}
	}
	return nil
}

func reservedDestination(dst string) bool {
	switch dst {
	case ManifestFilename, MetadataFilename, SummaryFilename, OverviewFilename, InvalidMarker:
		return true
	}
	top := dst
	if i := strings.IndexByte(dst, '/'); i >= 0 {
		top = dst[:i]
	}
	return top == LogsDirname || top == PipelinesDirname
}

// Create makes a new dataset directory. The caller must have run
// CheckMapping first; Create refuses to reuse an existing root.
func Create(root, name, version, contact string, logger *slog.Logger) (*Dataset, error) {
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("dataset directory %s already exists (will not overwrite)", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating dataset directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dataset{name: name, version: version, contact: contact, root: root, logger: logger}, nil
}

// Load opens an existing dataset directory.
func Load(root string, logger *slog.Logger) (*Dataset, error) {
	if _, err := os.Stat(filepath.Join(root, ManifestFilename)); err != nil {
		return nil, fmt.Errorf("%s is not a packaged dataset: %w", root, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dataset{name: filepath.Base(root), root: root, logger: logger}, nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Version returns the dataset version.
func (d *Dataset) Version() string { return d.version }

// Root returns the dataset root directory.
func (d *Dataset) Root() string { return d.root }

// ManifestPath returns the path of the manifest document.
func (d *Dataset) ManifestPath() string { return filepath.Join(d.root, ManifestFilename) }

// Valid reports whether the dataset passed validation and has not been
// marked invalid since.
func (d *Dataset) Valid() bool {
	if _, err := os.Stat(filepath.Join(d.root, InvalidMarker)); err == nil {
		return false
	}
	_, err := os.Stat(d.ManifestPath())
	return err == nil
}

// Populate fills the dataset from the given cell mappings and validates the
// result. Steps are strictly ordered: all transfers complete before hashing
// starts, and the manifest and metadata documents are written by a single
// writer after everything else is on disk.
func (d *Dataset) Populate(ctx context.Context, cells []models.CellMapping, opts PopulateOptions) error {
	if opts.Mode == "" {
		opts.Mode = models.OperationCopy
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	pipelines := make(map[string]struct{})
	files := 0
	for _, cell := range cells {
		pipelines[cell.Pipeline] = struct{}{}
		files += len(cell.Mapping)
	}
	d.logger.Info("packaging dataset",
		"dataset", d.name, "version", d.version,
		"pipelines", len(pipelines), "files", files, "mode", opts.Mode)

	transferred, err := d.transfer(ctx, cells, opts)
	if err != nil {
		d.markInvalid(err)
		return err
	}

	hashes, err := d.hashTransferred(transferred, opts.Workers)
	if err != nil {
		d.markInvalid(err)
		return err
	}

	records := mergeRecords(cells, hashes)
	d.embedMetadata(records)

	if err := d.writeMetadata(records); err != nil {
		d.markInvalid(err)
		return err
	}
	if err := d.writeSummary(records, transferred); err != nil {
		d.markInvalid(err)
		return err
	}
	if err := d.writeOverview(records); err != nil {
		d.markInvalid(err)
		return err
	}
	if err := d.snapshotPipelines(opts.PipelinesDir); err != nil {
		d.markInvalid(err)
		return err
	}
	if err := d.aggregateLogs(opts.LogPaths); err != nil {
		d.markInvalid(err)
		return err
	}

	manifest, err := ManifestFromDir(d.root, ManifestFilename, InvalidMarker)
	if err != nil {
		d.markInvalid(err)
		return err
	}
	if err := manifest.Save(d.ManifestPath()); err != nil {
		d.markInvalid(err)
		return err
	}

	if err := manifest.Validate(d.name, d.root, ManifestFilename, InvalidMarker); err != nil {
		d.markInvalid(err)
		return err
	}

	d.logger.Info("dataset packaged and validated",
		"dataset", d.name, "manifest_entries", len(manifest.Entries))
	return nil
}

// transfer moves every mapping entry into the dataset root. Individual
// transfer failures are recorded and the remaining files still transfer, so
// the complete error set surfaces in one report.
func (d *Dataset) transfer(ctx context.Context, cells []models.CellMapping, opts PopulateOptions) (map[string]string, error) {
	type job struct {
		src, dst string // dst dataset-relative, slash-separated
	}

	var jobs []job
	for _, cell := range cells {
		for _, src := range cell.Mapping.SortedSources() {
			jobs = append(jobs, job{src: src, dst: filepath.ToSlash(cell.Mapping[src].Destination)})
		}
	}

	transferred := make(map[string]string, len(jobs)) // dest rel -> source abs
	var transferErrs []*models.TransferError

	// Destination paths are pre-verified unique, so concurrent writers
	// never touch the same file.
	var g errgroup.Group
	g.SetLimit(opts.Workers)
	results := make([]*models.TransferError, len(jobs))
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			abs := filepath.Join(d.root, filepath.FromSlash(j.dst))
			if err := transferFile(j.src, abs, opts.Mode); err != nil {
				d.logger.Error("transfer failed", "source", j.src, "destination", j.dst, "error", err)
				results[i] = &models.TransferError{Source: j.src, Destination: j.dst, Err: err}
				return nil
			}
			d.logger.Debug("transferred file", "source", j.src, "destination", j.dst, "mode", opts.Mode)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, j := range jobs {
		if results[i] != nil {
			transferErrs = append(transferErrs, results[i])
			continue
		}
		transferred[j.dst] = j.src
	}

	if len(transferErrs) > 0 {
		return nil, &models.TransferErrors{Errors: transferErrs}
	}
	return transferred, nil
}

func transferFile(src, dst string, mode models.Operation) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	switch mode {
	case models.OperationCopy:
		return copyPreserving(src, dst)
	case models.OperationMove:
		if err := os.Rename(src, dst); err == nil {
			return nil
		}
		if err := copyPreserving(src, dst); err != nil {
			return err
		}
		return os.Remove(src)
	case models.OperationLink:
		return os.Link(src, dst)
	}
	return fmt.Errorf("unsupported transfer mode: %s", mode)
}

// hashTransferred computes the content hash of every transferred file. This
// is the hash embedded into metadata; it runs before EXIF embedding, so it
// reflects the bytes as delivered by the pipelines.
func (d *Dataset) hashTransferred(transferred map[string]string, workers int) (map[string]string, error) {
	dests := make([]string, 0, len(transferred))
	for dst := range transferred {
		dests = append(dests, dst)
	}
	sort.Strings(dests)

	hashes := make([]string, len(dests))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, dst := range dests {
		i, dst := i, dst
		g.Go(func() error {
			hash, err := HashFile(filepath.Join(d.root, filepath.FromSlash(dst)))
			if err != nil {
				return err
			}
			hashes[i] = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byDest := make(map[string]string, len(dests))
	for i, dst := range dests {
		byDest[dst] = hashes[i]
	}
	return byDest, nil
}

// mergeRecords concatenates all metadata records across all files in
// file-path sort order and injects the computed content hash into each.
func mergeRecords(cells []models.CellMapping, hashes map[string]string) []models.OutputRecord {
	var out []models.OutputRecord
	for _, cell := range cells {
		for _, entry := range cell.Mapping {
			dst := filepath.ToSlash(entry.Destination)
			for _, rec := range entry.Records {
				rec.HashSHA256 = hashes[dst]
				out = append(out, models.OutputRecord{Path: dst, MetadataRecord: rec})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// embedMetadata writes identifying fields and the content hash into the
// embedded tag region of every file whose format supports one. Unsupported
// formats skip embedding without failing the run.
func (d *Dataset) embedMetadata(records []models.OutputRecord) {
	embedded := make(map[string]struct{})
	for i := range records {
		rec := &records[i]
		if _, done := embedded[rec.Path]; done {
			continue
		}
		path := filepath.Join(d.root, filepath.FromSlash(rec.Path))
		err := exif.Embed(path, rec.MetadataRecord)
		switch {
		case err == nil:
			embedded[rec.Path] = struct{}{}
		case exif.IsUnsupported(err):
			d.logger.Debug("skipping metadata embedding", "path", rec.Path, "reason", err)
		default:
			// Embedding problems are not fatal; the authoritative
			// metadata lives in the dataset-level document.
			d.logger.Warn("metadata embedding failed", "path", rec.Path, "error", err)
		}
	}
}

// markInvalid records a packaging or validation failure in the dataset root.
// The dataset is left on disk for inspection, never deleted.
func (d *Dataset) markInvalid(cause error) {
	content := fmt.Sprintf("dataset %q marked invalid at %s\n\n%v\n",
		d.name, time.Now().UTC().Format(time.RFC3339), cause)
	if err := os.WriteFile(filepath.Join(d.root, InvalidMarker), []byte(content), 0o644); err != nil {
		d.logger.Error("writing invalid marker", "error", err)
	}
	d.logger.Error("dataset marked invalid", "dataset", d.name, "cause", cause)
}
