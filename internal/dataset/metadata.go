package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/csiro-fair/marimba/internal/models"
)

// metadataDocument is the dataset-level metadata document: a header plus the
// ordered record set merged from every cell.
type metadataDocument struct {
	Dataset   string                `yaml:"dataset"`
	Version   string                `yaml:"version,omitempty"`
	Contact   string                `yaml:"contact,omitempty"`
	CreatedAt time.Time             `yaml:"created_at"`
	Records   []models.OutputRecord `yaml:"records"`
}

// writeMetadata writes the merged metadata document. Single writer: runs
// after all transfers and embedding are complete.
func (d *Dataset) writeMetadata(records []models.OutputRecord) error {
	doc := metadataDocument{
		Dataset:   d.name,
		Version:   d.version,
		Contact:   d.contact,
		CreatedAt: time.Now().UTC(),
		Records:   records,
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encoding metadata document: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.root, MetadataFilename), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata document: %w", err)
	}

	d.logger.Info("wrote metadata document", "records", len(records))
	return nil
}

// Metadata loads the dataset's merged metadata document.
func (d *Dataset) Metadata() ([]models.OutputRecord, error) {
	data, err := os.ReadFile(filepath.Join(d.root, MetadataFilename))
	if err != nil {
		return nil, fmt.Errorf("reading metadata document: %w", err)
	}

	var doc metadataDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing metadata document: %w", err)
	}
	return doc.Records, nil
}
