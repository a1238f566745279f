package dataset

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// snapshotPipelines copies the project's installed pipeline directories into
// the dataset for provenance: the exact pipeline versions and captured
// configs that produced the data travel with it.
func (d *Dataset) snapshotPipelines(pipelinesDir string) error {
	if pipelinesDir == "" {
		return nil
	}

	dst := filepath.Join(d.root, PipelinesDirname)
	err := filepath.WalkDir(pipelinesDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(pipelinesDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		return copyPreserving(path, target)
	})
	if err != nil {
		return fmt.Errorf("snapshotting pipelines: %w", err)
	}

	d.logger.Debug("snapshotted pipelines", "source", pipelinesDir)
	return nil
}

// aggregateLogs copies the project and pipeline log files into the dataset's
// logs directory.
func (d *Dataset) aggregateLogs(logPaths []string) error {
	if len(logPaths) == 0 {
		return nil
	}

	logsDir := filepath.Join(d.root, LogsDirname)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	for _, src := range logPaths {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyPreserving(src, filepath.Join(logsDir, filepath.Base(src))); err != nil {
			return fmt.Errorf("aggregating log %s: %w", src, err)
		}
	}
	return nil
}

// copyPreserving copies a file and keeps its modification time.
func copyPreserving(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
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

	if info, err := os.Stat(src); err == nil {
		_ = os.Chtimes(dst, time.Now(), info.ModTime())
	}
	return nil
}
