package models

import (
	"fmt"
	"strings"
)

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Cell-level: fatal for one (pipeline, collection) cell only.
	ErrImportSource      ErrorType = "import_source_error"
	ErrPipelineExecution ErrorType = "pipeline_execution_error"

	// Packaging-level: fatal for the whole packaging run.
	ErrPackagingCollision ErrorType = "packaging_collision_error"
	ErrTransfer           ErrorType = "transfer_error"
	ErrValidation         ErrorType = "validation_error"

	// Caller errors.
	ErrNoSuchPipeline   ErrorType = "no_such_pipeline"
	ErrNoSuchCollection ErrorType = "no_such_collection"

	ErrInternal ErrorType = "internal_error"
)

// ImportSourceError indicates the declared import source location is missing
// or unreadable.
type ImportSourceError struct {
	Source string
	Err    error
}

func (e *ImportSourceError) Error() string {
	return fmt.Sprintf("import source %q: %v", e.Source, e.Err)
}

func (e *ImportSourceError) Unwrap() error { return e.Err }

// PipelineExecutionError wraps any error (or recovered panic) raised inside
// pipeline-supplied code, tagged with the cell it came from.
type PipelineExecutionError struct {
	Pipeline   string
	Collection string
	Kind       OperationKind
	Err        error
}

func (e *PipelineExecutionError) Error() string {
	return fmt.Sprintf("pipeline %q, collection %q, operation %s: %v",
		e.Pipeline, e.Collection, e.Kind, e.Err)
}

func (e *PipelineExecutionError) Unwrap() error { return e.Err }

// Collision records two cells proposing the same destination path.
type Collision struct {
	Destination string
	FirstCell   string // "pipeline/collection" that claimed the path first
	SecondCell  string
}

// PackagingCollisionError is raised before any file transfer when two cells
// target the same destination-relative path.
type PackagingCollisionError struct {
	Collisions []Collision
}

func (e *PackagingCollisionError) Error() string {
	parts := make([]string, 0, len(e.Collisions))
	for _, c := range e.Collisions {
		parts = append(parts, fmt.Sprintf("%q claimed by both %s and %s", c.Destination, c.FirstCell, c.SecondCell))
	}
	return "destination collision: " + strings.Join(parts, "; ")
}

// TransferError reports a file that could not be copied, moved or linked.
type TransferError struct {
	Source      string
	Destination string
	Err         error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transferring %q -> %q: %v", e.Source, e.Destination, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// TransferErrors aggregates every transfer failure from a packaging run so
// the complete error set surfaces at once.
type TransferErrors struct {
	Errors []*TransferError
}

func (e *TransferErrors) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, te := range e.Errors {
		parts = append(parts, te.Error())
	}
	return fmt.Sprintf("%d transfer failure(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

// ValidationError reports a post-packaging mismatch between the manifest and
// the files on disk. The dataset is marked invalid but left in place.
type ValidationError struct {
	Dataset    string
	Mismatched []string // entries whose hash or size no longer match
	Missing    []string // manifest entries with no file on disk
	Extra      []string // files on disk with no manifest entry
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dataset %q failed validation: %d mismatched, %d missing, %d extra",
		e.Dataset, len(e.Mismatched), len(e.Missing), len(e.Extra))
}
