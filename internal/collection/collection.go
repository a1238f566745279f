// Package collection wraps one isolated batch of imported raw data: a named
// directory holding a persisted configuration document plus one data
// directory per pipeline. A collection is mutated only by its own
// import/process runs; no pipeline run is ever handed another collection's
// storage root.
package collection

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/csiro-fair/marimba/internal/config"
)

// ConfigFilename is the persisted collection-level configuration document.
const ConfigFilename = "collection.yml"

// Collection is a collection directory wrapper.
type Collection struct {
	name string
	root string
}

// Create makes a new collection directory with its config document.
func Create(root string, cfg config.Values) (*Collection, error) {
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("collection directory %s already exists", root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating collection directory: %w", err)
	}
	if err := config.Save(filepath.Join(root, ConfigFilename), cfg); err != nil {
		return nil, err
	}
	return &Collection{name: filepath.Base(root), root: root}, nil
}

// Load opens an existing collection directory.
func Load(root string) (*Collection, error) {
	if _, err := os.Stat(filepath.Join(root, ConfigFilename)); err != nil {
		return nil, fmt.Errorf("%s is not a collection directory: %w", root, err)
	}
	return &Collection{name: filepath.Base(root), root: root}, nil
}

// Name returns the collection name (its directory basename).
func (c *Collection) Name() string { return c.name }

// Root returns the collection storage root.
func (c *Collection) Root() string { return c.root }

// Config loads the persisted collection configuration.
func (c *Collection) Config() (config.Values, error) {
	return config.Load(filepath.Join(c.root, ConfigFilename))
}

// DataDirPath returns the per-pipeline data directory path without creating
// it. Dry runs use this to avoid mutating the collection.
func (c *Collection) DataDirPath(pipelineName string) string {
	return filepath.Join(c.root, pipelineName)
}

// DataDir returns (creating if needed) the per-pipeline data directory
// inside the collection. Each pipeline only ever sees its own subdirectory.
func (c *Collection) DataDir(pipelineName string) (string, error) {
	dir := filepath.Join(c.root, pipelineName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating collection data dir: %w", err)
	}
	return dir, nil
}
