package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestFilename is the per-pipeline manifest validated during
// installation and directory scans.
const ManifestFilename = "pipeline.toml"

// Manifest describes an installed pipeline directory. The Implementation key
// is resolved against a Registry; a manifest naming an unregistered key is
// rejected at scan time rather than failing later inside a run.
type Manifest struct {
	Name           string         `toml:"name"`
	Description    string         `toml:"description,omitempty"`
	Version        string         `toml:"version"`
	Implementation string         `toml:"implementation"`
	Metadata       map[string]any `toml:"metadata,omitempty"`
}

// Validate checks the required manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("pipeline manifest: missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("pipeline manifest %q: missing version", m.Name)
	}
	if m.Implementation == "" {
		return fmt.Errorf("pipeline manifest %q: missing implementation key", m.Name)
	}
	return nil
}

// LoadManifest reads and validates the manifest in a pipeline directory.
func LoadManifest(dir string) (Manifest, error) {
	var m Manifest

	path := filepath.Join(dir, ManifestFilename)
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return m, fmt.Errorf("reading pipeline manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// SaveManifest writes a manifest into a pipeline directory.
func SaveManifest(dir string, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	path := filepath.Join(dir, ManifestFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing pipeline manifest %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("encoding pipeline manifest %s: %w", path, err)
	}
	return nil
}

// ScanDir walks a directory of installed pipelines and returns the manifest
// for every subdirectory that carries one. A subdirectory with a malformed
// manifest is an error; files and manifest-less directories are skipped.
func ScanDir(dir string, reg *Registry) (map[string]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning pipelines dir %s: %w", dir, err)
	}

	manifests := make(map[string]Manifest)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(sub, ManifestFilename)); err != nil {
			continue
		}

		m, err := LoadManifest(sub)
		if err != nil {
			return nil, err
		}
		if !reg.Has(m.Implementation) {
			return nil, fmt.Errorf("pipeline %q: no implementation registered for key %q (known: %v)",
				m.Name, m.Implementation, reg.Keys())
		}
		if prev, dup := manifests[m.Name]; dup {
			return nil, fmt.Errorf("duplicate pipeline name %q (versions %s and %s)", m.Name, prev.Version, m.Version)
		}
		manifests[m.Name] = m
	}

	return manifests, nil
}
