// Package executor runs the Pipeline×Collection execution matrix. Cells are
// independent units of work dispatched to a bounded worker pool; a failure
// inside one cell is captured as that cell's outcome and never aborts
// sibling cells.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/csiro-fair/marimba/internal/config"
	"github.com/csiro-fair/marimba/internal/models"
	"github.com/csiro-fair/marimba/internal/pipeline"
)

// Cell is one (pipeline, collection) unit of work. New constructs a fresh
// pipeline instance for the cell, so pipeline implementations need not be
// concurrency-safe. DataDir is the only location the cell may mutate.
type Cell struct {
	Pipeline   string
	Collection string
	DataDir    string
	Config     config.Values // collection-level, handed to the operation read-only
	New        func(logger *slog.Logger) (pipeline.Pipeline, error)
}

// Request describes one matrix invocation.
type Request struct {
	Kind  models.OperationKind
	Cells []Cell

	// Source is the import source location, supplied once per invocation.
	Source string

	// Mode is the import transfer mode; ignored for process and package.
	Mode models.Operation

	// DryRun suppresses filesystem mutation while executing the full
	// decision logic and emitting the same log lines.
	DryRun bool

	// Extra is the caller-supplied extension map, validated per cell
	// against the pipeline's declared extra-args schema.
	Extra pipeline.ExtraArgs

	// Workers bounds the pool; defaults to the host's available
	// parallelism.
	Workers int
}

type cellResult struct {
	outcome models.CellOutcome
	mapping models.DataMapping
}

// Run executes every cell of the request through a bounded worker pool and
// returns the per-cell outcome report plus, for package runs, the successful
// cells' data mappings. Run itself only fails for malformed requests;
// everything that goes wrong inside a cell is recorded in the report.
func Run(ctx context.Context, logger *slog.Logger, req Request) (*models.RunReport, []models.CellMapping, error) {
	if req.Kind == models.KindImport && req.Source == "" {
		return nil, nil, fmt.Errorf("import run requires a source location")
	}
	if req.Mode == "" {
		req.Mode = models.OperationCopy
	}

	report := &models.RunReport{
		RunID:     uuid.NewString(),
		Operation: req.Kind,
		DryRun:    req.DryRun,
		StartedAt: time.Now(),
	}

	workers := req.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(req.Cells) {
		workers = len(req.Cells)
	}

	cellChan := make(chan Cell)
	resultChan := make(chan cellResult, len(req.Cells))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cell := range cellChan {
				resultChan <- runCell(ctx, logger, req, cell)
			}
		}()
	}

	go func() {
		defer close(cellChan)
		for _, cell := range req.Cells {
			select {
			case <-ctx.Done():
				return
			case cellChan <- cell:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var mappings []models.CellMapping
	for result := range resultChan {
		report.Outcomes = append(report.Outcomes, result.outcome)
		if result.mapping != nil {
			mappings = append(mappings, models.CellMapping{
				Pipeline:   result.outcome.Pipeline,
				Collection: result.outcome.Collection,
				Mapping:    result.mapping,
			})
		}
	}

	// Cells complete in arbitrary order; sort for a stable report.
	sort.Slice(report.Outcomes, func(i, j int) bool {
		a, b := report.Outcomes[i], report.Outcomes[j]
		if a.Pipeline != b.Pipeline {
			return a.Pipeline < b.Pipeline
		}
		return a.Collection < b.Collection
	})
	sort.Slice(mappings, func(i, j int) bool {
		if mappings[i].Pipeline != mappings[j].Pipeline {
			return mappings[i].Pipeline < mappings[j].Pipeline
		}
		return mappings[i].Collection < mappings[j].Collection
	})

	report.Finalize()
	return report, mappings, nil
}

// runCell executes one cell, converting any error or panic from
// pipeline-supplied code into a captured per-cell failure.
func runCell(ctx context.Context, logger *slog.Logger, req Request, cell Cell) (result cellResult) {
	cellLogger := logger.With(
		"pipeline", cell.Pipeline,
		"collection", cell.Collection,
		"operation", req.Kind,
	)

	outcome := models.CellOutcome{
		Pipeline:   cell.Pipeline,
		Collection: cell.Collection,
		Operation:  req.Kind,
		StartedAt:  time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			err := &models.PipelineExecutionError{
				Pipeline:   cell.Pipeline,
				Collection: cell.Collection,
				Kind:       req.Kind,
				Err:        fmt.Errorf("panic: %v", r),
			}
			cellLogger.Error("pipeline panicked", "error", err)
			outcome.Error = &models.CellError{Type: models.ErrPipelineExecution, Message: err.Error()}
			result = finalize(outcome, nil)
		}
	}()

	mapping, err := executeCell(ctx, cellLogger, req, cell)
	if err != nil {
		cellLogger.Error("cell failed", "error", err)
		outcome.Error = &models.CellError{Type: classify(err), Message: err.Error()}
		return finalize(outcome, nil)
	}

	outcome.Message = fmt.Sprintf("completed %s for pipeline %q and collection %q",
		req.Kind, cell.Pipeline, cell.Collection)
	cellLogger.Info("cell completed")
	return finalize(outcome, mapping)
}

func finalize(outcome models.CellOutcome, mapping models.DataMapping) cellResult {
	outcome.EndedAt = time.Now()
	outcome.DurationSec = outcome.EndedAt.Sub(outcome.StartedAt).Seconds()
	return cellResult{outcome: outcome, mapping: mapping}
}

func executeCell(ctx context.Context, cellLogger *slog.Logger, req Request, cell Cell) (models.DataMapping, error) {
	inst, err := cell.New(cellLogger)
	if err != nil {
		return nil, fmt.Errorf("instantiating pipeline: %w", err)
	}

	extra, err := resolveExtra(inst, req)
	if err != nil {
		return nil, err
	}

	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		return &models.PipelineExecutionError{
			Pipeline:   cell.Pipeline,
			Collection: cell.Collection,
			Kind:       req.Kind,
			Err:        err,
		}
	}

	switch req.Kind {
	case models.KindImport:
		if _, err := os.Stat(req.Source); err != nil {
			return nil, &models.ImportSourceError{Source: req.Source, Err: err}
		}
		if !req.DryRun {
			if err := os.MkdirAll(cell.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating cell data dir: %w", err)
			}
		}
		return nil, wrap(inst.Import(ctx, cell.DataDir, req.Source, cell.Config.Clone(), extra))

	case models.KindProcess:
		return nil, wrap(inst.Process(ctx, cell.DataDir, cell.Config.Clone(), extra))

	case models.KindPackage:
		mapping, err := inst.Package(ctx, cell.DataDir, cell.Config.Clone(), extra)
		if err != nil {
			return nil, wrap(err)
		}
		return mapping, nil
	}

	return nil, fmt.Errorf("unknown operation kind: %q", req.Kind)
}

// resolveExtra validates the caller's extension map against the pipeline's
// declared schema, then injects the engine-reserved keys.
func resolveExtra(inst pipeline.Pipeline, req Request) (pipeline.ExtraArgs, error) {
	resolved, err := config.Resolve(inst.ExtraSchema(), req.Extra)
	if err != nil {
		return nil, fmt.Errorf("extra args: %w", err)
	}

	extra := pipeline.ExtraArgs(resolved)
	if req.Kind == models.KindImport {
		if extra == nil {
			extra = pipeline.ExtraArgs{}
		}
		extra["operation"] = string(req.Mode)
	}
	return extra, nil
}

func classify(err error) models.ErrorType {
	var srcErr *models.ImportSourceError
	if errors.As(err, &srcErr) {
		return models.ErrImportSource
	}
	var pipeErr *models.PipelineExecutionError
	if errors.As(err, &pipeErr) {
		return models.ErrPipelineExecution
	}
	return models.ErrInternal
}
