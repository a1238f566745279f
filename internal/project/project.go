// Package project ties the engine together: a project directory owns the
// installed pipelines, the collections and the produced datasets, and
// exposes the run and package operations the CLI front end calls.
package project

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/csiro-fair/marimba/internal/collection"
	"github.com/csiro-fair/marimba/internal/config"
	"github.com/csiro-fair/marimba/internal/dataset"
	"github.com/csiro-fair/marimba/internal/pipeline"
)

const (
	PipelinesDirname   = "pipelines"
	CollectionsDirname = "collections"
	DatasetsDirname    = "datasets"
	LogFilename        = "project.log"
)

// InstalledPipeline is one pipeline registered into the project: its
// manifest, directory and the pipeline-level configuration captured at
// installation.
type InstalledPipeline struct {
	Manifest pipeline.Manifest
	Dir      string
	Config   config.Values
}

// Project is a project directory wrapper.
type Project struct {
	root     string
	registry *pipeline.Registry
	logger   *slog.Logger
	logFile  *os.File

	pipelines   map[string]*InstalledPipeline
	collections map[string]*collection.Collection
}

// Create scaffolds a new project directory.
func Create(root string, reg *pipeline.Registry) (*Project, error) {
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("project directory %s already exists", root)
	}
	for _, dir := range []string{root, filepath.Join(root, PipelinesDirname), filepath.Join(root, CollectionsDirname), filepath.Join(root, DatasetsDirname)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating project structure: %w", err)
		}
	}
	return Load(root, reg)
}

// Load opens an existing project directory, validates its structure, scans
// the installed pipelines and collections, and opens the project log.
func Load(root string, reg *pipeline.Registry) (*Project, error) {
	for _, dir := range []string{PipelinesDirname, CollectionsDirname, DatasetsDirname} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%s is not a project directory: missing %s/", root, dir)
		}
	}

	logFile, err := os.OpenFile(filepath.Join(root, LogFilename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening project log: %w", err)
	}

	p := &Project{
		root:     root,
		registry: reg,
		logger:   slog.New(slog.NewTextHandler(logFile, nil)),
		logFile:  logFile,
	}

	if err := p.scan(); err != nil {
		logFile.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the project log file.
func (p *Project) Close() error {
	return p.logFile.Close()
}

func (p *Project) scan() error {
	manifests, err := pipeline.ScanDir(p.PipelinesDir(), p.registry)
	if err != nil {
		return err
	}

	p.pipelines = make(map[string]*InstalledPipeline, len(manifests))
	for name, m := range manifests {
		dir := filepath.Join(p.PipelinesDir(), name)
		cfg, err := config.Load(filepath.Join(dir, "pipeline.yml"))
		if err != nil {
			return fmt.Errorf("pipeline %q: %w", name, err)
		}
		p.pipelines[name] = &InstalledPipeline{Manifest: m, Dir: dir, Config: cfg}
	}

	entries, err := os.ReadDir(p.CollectionsDir())
	if err != nil {
		return fmt.Errorf("scanning collections: %w", err)
	}
	p.collections = make(map[string]*collection.Collection)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		col, err := collection.Load(filepath.Join(p.CollectionsDir(), entry.Name()))
		if err != nil {
			return err
		}
		p.collections[col.Name()] = col
	}

	return nil
}

// Root returns the project root directory.
func (p *Project) Root() string { return p.root }

// PipelinesDir returns the installed-pipelines directory.
func (p *Project) PipelinesDir() string { return filepath.Join(p.root, PipelinesDirname) }

// CollectionsDir returns the collections directory.
func (p *Project) CollectionsDir() string { return filepath.Join(p.root, CollectionsDirname) }

// DatasetsDir returns the datasets directory.
func (p *Project) DatasetsDir() string { return filepath.Join(p.root, DatasetsDirname) }

// LogPath returns the project log file path.
func (p *Project) LogPath() string { return filepath.Join(p.root, LogFilename) }

// Logger returns the project logger. It writes to the project log file; the
// file is a shared append-only sink and slog writes are line-atomic, so
// concurrent cells may interleave but never corrupt lines.
func (p *Project) Logger() *slog.Logger { return p.logger }

// SetLogOutput mirrors project logging to an additional writer (the CLI
// uses this for console output).
func (p *Project) SetLogOutput(w io.Writer) {
	p.logger = slog.New(slog.NewTextHandler(io.MultiWriter(p.logFile, w), nil))
}

// PipelineNames returns the installed pipeline names, sorted.
func (p *Project) PipelineNames() []string {
	names := make([]string, 0, len(p.pipelines))
	for name := range p.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CollectionNames returns the collection names, sorted.
func (p *Project) CollectionNames() []string {
	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstallPipeline registers a pipeline into the project: it resolves the
// implementation key, captures the pipeline-level configuration (schema
// defaults plus overrides) and persists manifest and config documents.
func (p *Project) InstallPipeline(name, implementation, version string, overrides map[string]any) (*InstalledPipeline, error) {
	if name == "" {
		return nil, fmt.Errorf("pipeline name must not be empty")
	}
	if _, exists := p.pipelines[name]; exists {
		return nil, fmt.Errorf("pipeline %q already installed", name)
	}

	inst, err := p.registry.New(implementation, pipeline.Options{Logger: p.logger})
	if err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(inst.PipelineSchema(), overrides)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q config: %w", name, err)
	}

	dir := filepath.Join(p.PipelinesDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating pipeline dir: %w", err)
	}
	m := pipeline.Manifest{Name: name, Version: version, Implementation: implementation}
	if err := pipeline.SaveManifest(dir, m); err != nil {
		return nil, err
	}
	if err := config.Save(filepath.Join(dir, "pipeline.yml"), cfg); err != nil {
		return nil, err
	}

	installed := &InstalledPipeline{Manifest: m, Dir: dir, Config: cfg}
	p.pipelines[name] = installed
	p.logger.Info("installed pipeline", "pipeline", name, "implementation", implementation, "version", version)
	return installed, nil
}

// CollectionSchema returns the union of every installed pipeline's declared
// collection schema. Two pipelines declaring the same field with different
// defaults is a composition error.
func (p *Project) CollectionSchema() (config.Schema, error) {
	unified := config.Schema{}
	for _, name := range p.PipelineNames() {
		installed := p.pipelines[name]
		inst, err := p.registry.New(installed.Manifest.Implementation, pipeline.Options{Logger: p.logger})
		if err != nil {
			return nil, err
		}
		for field, def := range inst.CollectionSchema() {
			if prev, ok := unified[field]; ok && prev != def {
				return nil, fmt.Errorf("pipelines disagree on default for collection field %q (%v vs %v)", field, prev, def)
			}
			unified[field] = def
		}
	}
	return unified, nil
}

// CreateCollection makes a new collection with the unified collection
// schema resolved against the given overrides.
func (p *Project) CreateCollection(name string, overrides map[string]any) (*collection.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name must not be empty")
	}
	if _, exists := p.collections[name]; exists {
		return nil, fmt.Errorf("collection %q already exists", name)
	}

	schema, err := p.CollectionSchema()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(schema, overrides)
	if err != nil {
		return nil, fmt.Errorf("collection %q config: %w", name, err)
	}

	col, err := collection.Create(filepath.Join(p.CollectionsDir(), name), cfg)
	if err != nil {
		return nil, err
	}
	p.collections[name] = col
	p.logger.Info("created collection", "collection", name)
	return col, nil
}

// Dataset opens a packaged dataset under the project datasets directory.
func (p *Project) Dataset(name string) (*dataset.Dataset, error) {
	if name == "" {
		return nil, fmt.Errorf("dataset name must not be empty")
	}
	return dataset.Load(filepath.Join(p.DatasetsDir(), name), p.logger)
}

// resolveFilters expands the pipeline and collection filter sets. An empty
// set means "all"; a name not present in the project is a caller error.
func (p *Project) resolveFilters(pipelineFilter, collectionFilter []string) ([]string, []string, error) {
	pipelines := p.PipelineNames()
	if len(pipelineFilter) > 0 {
		for _, name := range pipelineFilter {
			if _, ok := p.pipelines[name]; !ok {
				return nil, nil, fmt.Errorf("no such pipeline: %q (installed: %v)", name, pipelines)
			}
		}
		pipelines = append([]string(nil), pipelineFilter...)
		sort.Strings(pipelines)
	}

	collections := p.CollectionNames()
	if len(collectionFilter) > 0 {
		for _, name := range collectionFilter {
			if _, ok := p.collections[name]; !ok {
				return nil, nil, fmt.Errorf("no such collection: %q (existing: %v)", name, collections)
			}
		}
		collections = append([]string(nil), collectionFilter...)
		sort.Strings(collections)
	}

	return pipelines, collections, nil
}
