package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/csiro-fair/marimba/internal/config"
	"github.com/csiro-fair/marimba/internal/models"
)

// PassthroughKey is the registry key for the built-in passthrough pipeline.
const PassthroughKey = "passthrough"

// Passthrough is the built-in reference pipeline: import copies the source
// tree verbatim, process is a no-op, and package maps every file under the
// data directory to the same relative path with minimal metadata. Useful for
// instruments whose on-disk layout is already the desired dataset layout,
// and as the exemplar for third-party implementations.
type Passthrough struct {
	cfg    config.Values
	dryRun bool
	logger *slog.Logger
}

// NewPassthrough is the Factory for the passthrough pipeline.
func NewPassthrough(opts Options) (Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Passthrough{cfg: opts.Config, dryRun: opts.DryRun, logger: logger}, nil
}

// PipelineSchema declares the static pipeline fields.
func (p *Passthrough) PipelineSchema() config.Schema {
	return config.Schema{
		"platform_name": "unspecified",
		"sensor_name":   "unspecified",
	}
}

// CollectionSchema declares the per-collection fields.
func (p *Passthrough) CollectionSchema() config.Schema {
	return config.Schema{
		"site_id": "A",
	}
}

// ExtraSchema declares the accepted per-invocation extension arguments.
func (p *Passthrough) ExtraSchema() config.Schema {
	return config.Schema{
		"operation":   string(models.OperationCopy),
		"dest_prefix": "",
	}
}

// Import transfers every regular file under source into dataDir, preserving
// the relative layout.
func (p *Passthrough) Import(ctx context.Context, dataDir, source string, cfg config.Values, extra ExtraArgs) error {
	mode := models.OperationCopy
	if m, ok := extra["operation"].(string); ok && m != "" {
		parsed, err := models.ParseOperation(m)
		if err != nil {
			return err
		}
		mode = parsed
	}

	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(dataDir, rel)

		if p.dryRun {
			p.logger.Info("would transfer file", "operation", mode, "source", path, "destination", dst)
			return nil
		}

		p.logger.Info("transferring file", "operation", mode, "source", path, "destination", dst)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		switch mode {
		case models.OperationCopy:
			return copyFile(path, dst)
		case models.OperationMove:
			if err := os.Rename(path, dst); err == nil {
				return nil
			}
			// Rename fails across filesystems; fall back to copy+remove.
			if err := copyFile(path, dst); err != nil {
				return err
			}
			return os.Remove(path)
		case models.OperationLink:
			return os.Link(path, dst)
		}
		return fmt.Errorf("unsupported operation: %s", mode)
	})
}

// Process is a no-op for the passthrough pipeline.
func (p *Passthrough) Process(ctx context.Context, dataDir string, cfg config.Values, extra ExtraArgs) error {
	p.logger.Info("passthrough process: nothing to do", "data_dir", dataDir)
	return nil
}

// Package maps every regular file under dataDir to the same relative path,
// attaching one metadata record derived from the pipeline and collection
// configuration and the file modification time.
func (p *Passthrough) Package(ctx context.Context, dataDir string, cfg config.Values, extra ExtraArgs) (models.DataMapping, error) {
	prefix, _ := extra["dest_prefix"].(string)

	mapping := make(models.DataMapping)
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		mtime := info.ModTime().UTC()

		rec := models.MetadataRecord{
			DateTime:     &mtime,
			Context:      cfg.String("site_id", ""),
			PlatformName: p.cfg.String("platform_name", ""),
			SensorName:   p.cfg.String("sensor_name", ""),
			Extra:        map[string]any{"site": cfg.String("site_id", "")},
		}

		mapping[abs] = models.MappingEntry{
			Destination: strings.TrimPrefix(filepath.ToSlash(filepath.Join(prefix, rel)), "/"),
			Records:     []models.MetadataRecord{rec},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("passthrough package mapping built", "data_dir", dataDir, "files", len(mapping))
	return mapping, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Preserve the source timestamp so acquisition times survive import.
	if info, err := os.Stat(src); err == nil {
		_ = os.Chtimes(dst, time.Now(), info.ModTime())
	}
	return nil
}
