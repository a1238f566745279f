package executor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csiro-fair/marimba/internal/config"
	"github.com/csiro-fair/marimba/internal/executor"
	"github.com/csiro-fair/marimba/internal/models"
	"github.com/csiro-fair/marimba/internal/pipeline"
)

// fakePipeline lets tests script per-collection behavior.
type fakePipeline struct {
	importErr  error
	processErr error
	packageFn  func(dataDir string) (models.DataMapping, error)
	panicOn    models.OperationKind
}

func (f *fakePipeline) PipelineSchema() config.Schema   { return config.Schema{} }
func (f *fakePipeline) CollectionSchema() config.Schema { return config.Schema{} }
func (f *fakePipeline) ExtraSchema() config.Schema {
	return config.Schema{"operation": "copy"}
}

func (f *fakePipeline) Import(ctx context.Context, dataDir, source string, cfg config.Values, extra pipeline.ExtraArgs) error {
	if f.panicOn == models.KindImport {
		panic("scripted import panic")
	}
	return f.importErr
}

func (f *fakePipeline) Process(ctx context.Context, dataDir string, cfg config.Values, extra pipeline.ExtraArgs) error {
	if f.panicOn == models.KindProcess {
		panic("scripted process panic")
	}
	return f.processErr
}

func (f *fakePipeline) Package(ctx context.Context, dataDir string, cfg config.Values, extra pipeline.ExtraArgs) (models.DataMapping, error) {
	if f.panicOn == models.KindPackage {
		panic("scripted package panic")
	}
	if f.packageFn != nil {
		return f.packageFn(dataDir)
	}
	return models.DataMapping{}, nil
}

func cellFor(p, c string, fp *fakePipeline, dataDir string) executor.Cell {
	return executor.Cell{
		Pipeline:   p,
		Collection: c,
		DataDir:    dataDir,
		Config:     config.Values{},
		New: func(logger *slog.Logger) (pipeline.Pipeline, error) {
			return fp, nil
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFailureIsolation(t *testing.T) {
	// Pipeline P fails its package operation for collection A only;
	// collection B must still succeed and appear in the report.
	failing := &fakePipeline{packageFn: func(string) (models.DataMapping, error) {
		return nil, errors.New("corrupt sensor log")
	}}
	working := &fakePipeline{packageFn: func(string) (models.DataMapping, error) {
		return models.DataMapping{
			"/abs/img.jpg": {Destination: "images/img.jpg"},
		}, nil
	}}

	report, mappings, err := executor.Run(context.Background(), discardLogger(), executor.Request{
		Kind: models.KindPackage,
		Cells: []executor.Cell{
			cellFor("P", "A", failing, t.TempDir()),
			cellFor("P", "B", working, t.TempDir()),
		},
	})
	if err != nil {
		t.Fatalf("running matrix: %v", err)
	}

	if report.Status != models.RunPartial {
		t.Fatalf("expected partial status, got %s", report.Status)
	}
	if report.TotalCells != 2 || report.FailedCells != 1 || report.CompletedCells != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}

	if len(mappings) != 1 {
		t.Fatalf("expected one mapping from the surviving cell, got %d", len(mappings))
	}
	if mappings[0].Collection != "B" {
		t.Fatalf("expected collection B mapping, got %s", mappings[0].Collection)
	}

	for _, o := range report.Outcomes {
		if o.Collection == "A" {
			if o.Error == nil || o.Error.Type != models.ErrPipelineExecution {
				t.Fatalf("collection A should carry a pipeline execution error, got %+v", o.Error)
			}
		}
		if o.Collection == "B" && o.Error != nil {
			t.Fatalf("collection B should have succeeded: %+v", o.Error)
		}
	}
}

func TestPanicIsCapturedAtCellBoundary(t *testing.T) {
	panicking := &fakePipeline{panicOn: models.KindProcess}
	fine := &fakePipeline{}

	report, _, err := executor.Run(context.Background(), discardLogger(), executor.Request{
		Kind: models.KindProcess,
		Cells: []executor.Cell{
			cellFor("P", "A", panicking, t.TempDir()),
			cellFor("P", "B", fine, t.TempDir()),
		},
	})
	if err != nil {
		t.Fatalf("running matrix: %v", err)
	}

	if report.Status != models.RunPartial {
		t.Fatalf("expected partial status, got %s", report.Status)
	}
	for _, o := range report.Outcomes {
		if o.Collection == "A" {
			if o.Error == nil || !strings.Contains(o.Error.Message, "panic") {
				t.Fatalf("expected captured panic, got %+v", o.Error)
			}
		}
	}
}

func TestImportSourceMissing(t *testing.T) {
	report, _, err := executor.Run(context.Background(), discardLogger(), executor.Request{
		Kind:   models.KindImport,
		Source: filepath.Join(t.TempDir(), "no-such-card"),
		Cells:  []executor.Cell{cellFor("P", "A", &fakePipeline{}, t.TempDir())},
	})
	if err != nil {
		t.Fatalf("running matrix: %v", err)
	}

	if report.Status != models.RunFailed {
		t.Fatalf("expected failed status, got %s", report.Status)
	}
	if report.Outcomes[0].Error.Type != models.ErrImportSource {
		t.Fatalf("expected import source error, got %s", report.Outcomes[0].Error.Type)
	}
}

func TestDryRunImportMutatesNothingAndLogsEachFile(t *testing.T) {
	source := t.TempDir()
	const n = 5
	for i := 0; i < n; i++ {
		path := filepath.Join(source, fmt.Sprintf("frame_%03d.jpg", i))
		if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("seeding source: %v", err)
		}
	}

	dataDir := filepath.Join(t.TempDir(), "c1", "p1")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	report, _, err := executor.Run(context.Background(), logger, executor.Request{
		Kind:   models.KindImport,
		Source: source,
		DryRun: true,
		Cells: []executor.Cell{{
			Pipeline:   "p1",
			Collection: "c1",
			DataDir:    dataDir,
			Config:     config.Values{},
			New: func(l *slog.Logger) (pipeline.Pipeline, error) {
				return pipeline.NewPassthrough(pipeline.Options{DryRun: true, Logger: l})
			},
		}},
	})
	if err != nil {
		t.Fatalf("running matrix: %v", err)
	}
	if report.Status != models.RunSucceeded {
		t.Fatalf("dry run should succeed, got %s", report.Status)
	}

	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Fatalf("dry run must not create the cell data dir")
	}

	got := strings.Count(buf.String(), "would transfer file")
	if got != n {
		t.Fatalf("expected %d would-transfer log lines, got %d", n, got)
	}
}

func TestMatrixEqualsUnionOfDisjointSubsets(t *testing.T) {
	// Running the full matrix must produce the same outcome set as running
	// disjoint collection subsets separately.
	mk := func(collections ...string) []executor.Cell {
		cells := make([]executor.Cell, 0, len(collections))
		for _, c := range collections {
			cells = append(cells, cellFor("P", c, &fakePipeline{}, t.TempDir()))
		}
		return cells
	}

	full, _, err := executor.Run(context.Background(), discardLogger(), executor.Request{
		Kind:  models.KindProcess,
		Cells: mk("A", "B", "C", "D"),
	})
	if err != nil {
		t.Fatalf("full run: %v", err)
	}

	var union []string
	for _, subset := range [][]string{{"A", "B"}, {"C", "D"}} {
		report, _, err := executor.Run(context.Background(), discardLogger(), executor.Request{
			Kind:  models.KindProcess,
			Cells: mk(subset...),
		})
		if err != nil {
			t.Fatalf("subset run: %v", err)
		}
		for _, o := range report.Outcomes {
			union = append(union, o.Pipeline+"/"+o.Collection)
		}
	}

	var fullKeys []string
	for _, o := range full.Outcomes {
		fullKeys = append(fullKeys, o.Pipeline+"/"+o.Collection)
	}

	if len(fullKeys) != len(union) {
		t.Fatalf("full matrix ran %d cells, subsets ran %d", len(fullKeys), len(union))
	}
	for i := range fullKeys {
		if fullKeys[i] != union[i] {
			t.Fatalf("cell set mismatch at %d: %s vs %s", i, fullKeys[i], union[i])
		}
	}
}

func TestUnknownExtraArgFailsCell(t *testing.T) {
	report, _, err := executor.Run(context.Background(), discardLogger(), executor.Request{
		Kind:  models.KindProcess,
		Extra: pipeline.ExtraArgs{"no_such_arg": true},
		Cells: []executor.Cell{cellFor("P", "A", &fakePipeline{}, t.TempDir())},
	})
	if err != nil {
		t.Fatalf("running matrix: %v", err)
	}
	if report.Status != models.RunFailed {
		t.Fatalf("expected failed status, got %s", report.Status)
	}
	if !strings.Contains(report.Outcomes[0].Error.Message, "not declared in schema") {
		t.Fatalf("expected fail-fast on unknown extra arg, got %q", report.Outcomes[0].Error.Message)
	}
}
