package dataset

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/csiro-fair/marimba/internal/models"
)

// Manifest proves dataset integrity: one entry per file physically present
// under the dataset root, sorted lexicographically by dataset-relative path
// so the document is diff-friendly and its own hash reproducible.
type Manifest struct {
	Entries []models.ManifestEntry
}

// HashFile computes the SHA-256 content hash of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ManifestFromDir enumerates every file under root (excluding the given
// root-relative paths) and hashes them through a bounded worker group.
func ManifestFromDir(root string, exclude ...string) (*Manifest, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excluded[filepath.ToSlash(e)] = struct{}{}
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, skip := excluded[rel]; skip {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating dataset root %s: %w", root, err)
	}

	entries := make([]models.ManifestEntry, len(paths))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, rel := range paths {
		i, rel := i, rel
		g.Go(func() error {
			abs := filepath.Join(root, filepath.FromSlash(rel))
			info, err := os.Stat(abs)
			if err != nil {
				return err
			}
			hash, err := HashFile(abs)
			if err != nil {
				return err
			}
			entries[i] = models.ManifestEntry{Path: rel, SHA256: hash, Size: info.Size()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &Manifest{Entries: entries}, nil
}

// Save writes the manifest as one "path  sha256  size" line per entry.
func (m *Manifest) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range m.Entries {
		if _, err := fmt.Fprintf(w, "%s  %s  %d\n", e.Path, e.SHA256, e.Size); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}
	return w.Flush()
}

// LoadManifest parses a manifest document.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "  ")
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed manifest line: %q", line)
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed manifest size in %q: %w", line, err)
		}
		m.Entries = append(m.Entries, models.ManifestEntry{Path: fields[0], SHA256: fields[1], Size: size})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return &m, nil
}

// Validate re-hashes every file under root and compares against the
// manifest. Any hash/size mismatch, missing entry or extra file yields a
// ValidationError listing the complete difference set.
func (m *Manifest) Validate(datasetName, root string, exclude ...string) error {
	current, err := ManifestFromDir(root, exclude...)
	if err != nil {
		return err
	}

	want := make(map[string]models.ManifestEntry, len(m.Entries))
	for _, e := range m.Entries {
		want[e.Path] = e
	}

	verr := &models.ValidationError{Dataset: datasetName}
	seen := make(map[string]struct{}, len(current.Entries))
	for _, got := range current.Entries {
		seen[got.Path] = struct{}{}
		expected, ok := want[got.Path]
		if !ok {
			verr.Extra = append(verr.Extra, got.Path)
			continue
		}
		if expected.SHA256 != got.SHA256 || expected.Size != got.Size {
			verr.Mismatched = append(verr.Mismatched, got.Path)
		}
	}
	for _, e := range m.Entries {
		if _, ok := seen[e.Path]; !ok {
			verr.Missing = append(verr.Missing, e.Path)
		}
	}

	if len(verr.Mismatched)+len(verr.Missing)+len(verr.Extra) > 0 {
		sort.Strings(verr.Mismatched)
		sort.Strings(verr.Missing)
		sort.Strings(verr.Extra)
		return verr
	}
	return nil
}
