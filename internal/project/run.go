package project

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/csiro-fair/marimba/internal/dataset"
	"github.com/csiro-fair/marimba/internal/executor"
	"github.com/csiro-fair/marimba/internal/models"
	"github.com/csiro-fair/marimba/internal/pipeline"
)

// RunOptions selects and configures one matrix run.
type RunOptions struct {
	Kind        models.OperationKind
	Pipelines   []string // empty means all installed
	Collections []string // empty means all existing
	Source      string   // import only
	Mode        models.Operation
	DryRun      bool
	Extra       pipeline.ExtraArgs
	Workers     int
}

// PackageOptions configures one packaging run.
type PackageOptions struct {
	Name        string
	Version     string
	Contact     string
	Pipelines   []string
	Collections []string
	Mode        models.Operation
	Extra       pipeline.ExtraArgs
	Workers     int
}

// Run executes the selected operation over the filtered Pipeline×Collection
// matrix and returns the per-cell outcome report. Completed cells' effects
// are retained even when siblings fail.
func (p *Project) Run(ctx context.Context, opts RunOptions) (*models.RunReport, error) {
	report, _, err := p.runMatrix(ctx, opts)
	return report, err
}

func (p *Project) runMatrix(ctx context.Context, opts RunOptions) (*models.RunReport, []models.CellMapping, error) {
	pipelines, collections, err := p.resolveFilters(opts.Pipelines, opts.Collections)
	if err != nil {
		return nil, nil, err
	}

	var cells []executor.Cell
	for _, pName := range pipelines {
		installed := p.pipelines[pName]
		for _, cName := range collections {
			col := p.collections[cName]

			colCfg, err := col.Config()
			if err != nil {
				return nil, nil, fmt.Errorf("collection %q: %w", cName, err)
			}

			var dataDir string
			if opts.DryRun {
				dataDir = col.DataDirPath(pName)
			} else {
				dataDir, err = col.DataDir(pName)
				if err != nil {
					return nil, nil, err
				}
			}

			cells = append(cells, executor.Cell{
				Pipeline:   pName,
				Collection: cName,
				DataDir:    dataDir,
				Config:     colCfg,
				New: func(logger *slog.Logger) (pipeline.Pipeline, error) {
					return p.registry.New(installed.Manifest.Implementation, pipeline.Options{
						Config: installed.Config.Clone(),
						DryRun: opts.DryRun,
						Logger: logger,
					})
				},
			})
		}
	}

	p.logger.Info("starting run",
		"operation", opts.Kind, "cells", len(cells),
		"pipelines", pipelines, "collections", collections, "dry_run", opts.DryRun)

	report, mappings, err := executor.Run(ctx, p.logger, executor.Request{
		Kind:    opts.Kind,
		Cells:   cells,
		Source:  opts.Source,
		Mode:    opts.Mode,
		DryRun:  opts.DryRun,
		Extra:   opts.Extra,
		Workers: opts.Workers,
	})
	if err != nil {
		return nil, nil, err
	}

	p.logger.Info("run finished",
		"run_id", report.RunID, "status", report.Status,
		"completed", report.CompletedCells, "failed", report.FailedCells)
	return report, mappings, nil
}

// Package runs the package operation over the filtered matrix and produces
// one validated dataset from the cell data mappings. Any failed cell aborts
// packaging before any mutation: a dataset is only ever built from the
// complete selected scope. The report is returned alongside the dataset so
// callers can surface per-cell details either way.
func (p *Project) Package(ctx context.Context, opts PackageOptions) (*dataset.Dataset, *models.RunReport, error) {
	if opts.Name == "" {
		return nil, nil, fmt.Errorf("dataset name must not be empty")
	}
	if _, err := models.ParseOperation(string(opts.Mode)); err != nil && opts.Mode != "" {
		return nil, nil, err
	}

	report, mappings, err := p.runMatrix(ctx, RunOptions{
		Kind:        models.KindPackage,
		Pipelines:   opts.Pipelines,
		Collections: opts.Collections,
		Extra:       opts.Extra,
		Workers:     opts.Workers,
	})
	if err != nil {
		return nil, nil, err
	}
	if report.Status != models.RunSucceeded {
		return nil, report, fmt.Errorf("packaging aborted: %d of %d package cells failed",
			report.FailedCells, report.TotalCells)
	}

	// Collision check happens before the dataset root exists; a collision
	// leaves nothing behind.
	if err := dataset.CheckMapping(mappings); err != nil {
		return nil, report, err
	}

	root := filepath.Join(p.DatasetsDir(), opts.Name)
	ds, err := dataset.Create(root, opts.Name, opts.Version, opts.Contact, p.logger)
	if err != nil {
		return nil, report, err
	}

	err = ds.Populate(ctx, mappings, dataset.PopulateOptions{
		Mode:         opts.Mode,
		Workers:      opts.Workers,
		PipelinesDir: p.PipelinesDir(),
		LogPaths:     []string{p.LogPath()},
	})
	if err != nil {
		// The dataset stays on disk marked invalid for inspection.
		return ds, report, err
	}

	p.logger.Info("packaged dataset", "dataset", opts.Name, "version", opts.Version, "root", ds.Root())
	return ds, report, nil
}
