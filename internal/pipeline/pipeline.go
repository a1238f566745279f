// Package pipeline defines the capability set a processing unit must
// implement and the registry through which implementations are installed
// into a project.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/csiro-fair/marimba/internal/config"
	"github.com/csiro-fair/marimba/internal/models"
)

// ExtraArgs is the typed extension map passed through to pipeline
// operations. It is validated against the pipeline's ExtraSchema before any
// operation runs, so unknown keys fail fast.
type ExtraArgs map[string]any

// Pipeline is the capability set a processing unit supplies. The engine
// treats implementations as opaque: any error or panic inside these methods
// is caught at the cell boundary.
//
// A pipeline must treat the dataDir it is given as the only location it may
// mutate. It is never handed another collection's storage root.
type Pipeline interface {
	// PipelineSchema declares fields that are static for the pipeline
	// across all collections, as a flat field -> default map.
	PipelineSchema() config.Schema

	// CollectionSchema declares fields captured per collection.
	CollectionSchema() config.Schema

	// ExtraSchema declares the extension arguments the pipeline accepts on
	// each invocation.
	ExtraSchema() config.Schema

	// Import brings raw data from source into dataDir.
	Import(ctx context.Context, dataDir, source string, cfg config.Values, extra ExtraArgs) error

	// Process transforms data already present in dataDir in place.
	Process(ctx context.Context, dataDir string, cfg config.Values, extra ExtraArgs) error

	// Package returns the data mapping for dataDir: which files should land
	// where in a dataset, with what metadata.
	Package(ctx context.Context, dataDir string, cfg config.Values, extra ExtraArgs) (models.DataMapping, error)
}

// Options carries the per-instantiation context handed to a Factory.
type Options struct {
	// Config is the pipeline-level configuration captured at installation.
	Config config.Values

	// DryRun suppresses filesystem mutation. Pipelines must still execute
	// their full decision logic and emit the same log lines.
	DryRun bool

	// Logger is scoped to the cell being executed.
	Logger *slog.Logger
}

// Factory constructs a pipeline instance. A fresh instance is created for
// every cell, so implementations need not be safe for concurrent use.
type Factory func(opts Options) (Pipeline, error)
