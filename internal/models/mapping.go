package models

import "sort"

// MappingEntry is what a pipeline proposes for one source file: where it
// should land in the dataset, the metadata records describing it, and any
// free-form ancillary attributes.
type MappingEntry struct {
	Destination string           `json:"destination"` // dataset-relative path
	Records     []MetadataRecord `json:"records,omitempty"`
	Ancillary   map[string]any   `json:"ancillary,omitempty"`
}

// DataMapping is the contract returned by a pipeline's package operation for
// one (pipeline, collection) cell, keyed by absolute source file path. Keys
// are unique within a cell; the packaging engine is responsible for detecting
// destination collisions across cells.
type DataMapping map[string]MappingEntry

// SortedSources returns the mapping's source paths in lexicographic order.
func (m DataMapping) SortedSources() []string {
	sources := make([]string, 0, len(m))
	for src := range m {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return sources
}

// CellMapping is a cell's data mapping tagged with the cell identity that
// produced it.
type CellMapping struct {
	Pipeline   string
	Collection string
	Mapping    DataMapping
}
