package models

import "fmt"

// OperationKind identifies which pipeline operation a run executes.
type OperationKind string

const (
	KindImport  OperationKind = "import"
	KindProcess OperationKind = "process"
	KindPackage OperationKind = "package"
)

// ParseOperationKind converts a user-supplied string to an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	switch OperationKind(s) {
	case KindImport, KindProcess, KindPackage:
		return OperationKind(s), nil
	}
	return "", fmt.Errorf("unknown operation kind: %q", s)
}

// Operation is the file transfer mode used by import and packaging.
type Operation string

const (
	OperationCopy Operation = "copy"
	OperationMove Operation = "move" // removes sources; removable-media workflows only
	OperationLink Operation = "link" // hard links, avoids duplicating bytes
)

// ParseOperation converts a user-supplied string to a transfer Operation.
// An empty string selects the default, copy.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case "":
		return OperationCopy, nil
	case OperationCopy, OperationMove, OperationLink:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown transfer operation: %q", s)
}
