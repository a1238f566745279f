package dataset_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csiro-fair/marimba/internal/dataset"
	"github.com/csiro-fair/marimba/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

func ptr[T any](v T) *T { return &v }

func TestCollisionAbortsBeforeAnyMutation(t *testing.T) {
	srcDir := t.TempDir()
	a := writeSource(t, srcDir, "a.jpg", "from cell a")
	b := writeSource(t, srcDir, "b.jpg", "from cell b")

	cells := []models.CellMapping{
		{Pipeline: "P", Collection: "C1", Mapping: models.DataMapping{
			a: {Destination: "images/shot.jpg"},
		}},
		{Pipeline: "P", Collection: "C2", Mapping: models.DataMapping{
			b: {Destination: "images/shot.jpg"},
		}},
	}

	err := dataset.CheckMapping(cells)
	require.Error(t, err)

	var collisionErr *models.PackagingCollisionError
	require.ErrorAs(t, err, &collisionErr)
	require.Len(t, collisionErr.Collisions, 1)
	assert.Equal(t, "images/shot.jpg", collisionErr.Collisions[0].Destination)
	assert.Equal(t, "P/C1", collisionErr.Collisions[0].FirstCell)
	assert.Equal(t, "P/C2", collisionErr.Collisions[0].SecondCell)
}

func TestCheckMappingRejectsEscapingDestinations(t *testing.T) {
	srcDir := t.TempDir()
	a := writeSource(t, srcDir, "a.jpg", "x")

	for _, dst := range []string{"../outside.jpg", "/etc/passwd", "", "images/../../up.jpg"} {
		err := dataset.CheckMapping([]models.CellMapping{
			{Pipeline: "P", Collection: "C", Mapping: models.DataMapping{a: {Destination: dst}}},
		})
		assert.Error(t, err, "destination %q should be rejected", dst)
	}
}

func TestCheckMappingRejectsReservedArtifacts(t *testing.T) {
	srcDir := t.TempDir()
	a := writeSource(t, srcDir, "a.txt", "x")

	for _, dst := range []string{"manifest.txt", "metadata.yml", "logs/run.log", "pipelines/cam/pipeline.toml"} {
		err := dataset.CheckMapping([]models.CellMapping{
			{Pipeline: "P", Collection: "C", Mapping: models.DataMapping{a: {Destination: dst}}},
		})
		assert.Error(t, err, "destination %q should be rejected", dst)
	}
}

// The concrete scenario from the engine contract: one pipeline, one
// collection, one image with a site override, packaged end to end.
func TestPackageSingleCellScenario(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "image1.jpg", "not really a jpeg, but bytes are bytes")

	when := time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	cells := []models.CellMapping{{
		Pipeline:   "P",
		Collection: "C1",
		Mapping: models.DataMapping{
			src: {
				Destination: "images/image1.jpg",
				Records: []models.MetadataRecord{{
					DateTime:  &when,
					Latitude:  ptr(-42.88),
					Longitude: ptr(147.33),
					Context:   "REEF-1",
					Note:      "towed camera survey",
				}},
			},
		},
	}}

	require.NoError(t, dataset.CheckMapping(cells))

	root := filepath.Join(t.TempDir(), "ds1")
	ds, err := dataset.Create(root, "ds1", "1.0.0", "ops@example.org", testLogger())
	require.NoError(t, err)

	require.NoError(t, ds.Populate(context.Background(), cells, dataset.PopulateOptions{}))

	// Payload byte-identical to the source.
	got, err := os.ReadFile(filepath.Join(root, "images", "image1.jpg"))
	require.NoError(t, err)
	want, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Manifest covers the payload and every generated artifact.
	manifest, err := dataset.LoadManifest(ds.ManifestPath())
	require.NoError(t, err)
	paths := make(map[string]models.ManifestEntry)
	for _, e := range manifest.Entries {
		paths[e.Path] = e
	}
	require.Contains(t, paths, "images/image1.jpg")
	require.Contains(t, paths, dataset.MetadataFilename)
	require.Contains(t, paths, dataset.SummaryFilename)
	require.Contains(t, paths, dataset.OverviewFilename)
	assert.NotContains(t, paths, dataset.ManifestFilename)

	imgHash, err := dataset.HashFile(filepath.Join(root, "images", "image1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, imgHash, paths["images/image1.jpg"].SHA256)

	// Merged metadata carries the record, its path and the content hash.
	records, err := ds.Metadata()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "images/image1.jpg", records[0].Path)
	assert.Equal(t, "REEF-1", records[0].Context)
	assert.Equal(t, imgHash, records[0].HashSHA256)

	assert.True(t, ds.Valid())
}

func TestValidationRoundTripAndSingleMutation(t *testing.T) {
	srcDir := t.TempDir()
	cells := []models.CellMapping{{
		Pipeline:   "P",
		Collection: "C",
		Mapping: models.DataMapping{
			writeSource(t, srcDir, "a.txt", "alpha"): {Destination: "docs/a.txt"},
			writeSource(t, srcDir, "b.txt", "bravo"): {Destination: "docs/b.txt"},
		},
	}}

	root := filepath.Join(t.TempDir(), "ds")
	ds, err := dataset.Create(root, "ds", "", "", testLogger())
	require.NoError(t, err)
	require.NoError(t, ds.Populate(context.Background(), cells, dataset.PopulateOptions{}))

	manifest, err := dataset.LoadManifest(ds.ManifestPath())
	require.NoError(t, err)

	// Round trip: an untouched dataset re-validates cleanly.
	require.NoError(t, manifest.Validate("ds", root, dataset.ManifestFilename, dataset.InvalidMarker))

	// Mutating one byte of one file yields exactly one mismatch.
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("alphA"), 0o644))
	err = manifest.Validate("ds", root, dataset.ManifestFilename, dataset.InvalidMarker)
	require.Error(t, err)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"docs/a.txt"}, verr.Mismatched)
	assert.Empty(t, verr.Missing)
	assert.Empty(t, verr.Extra)
}

func TestTransferFailuresAreAggregated(t *testing.T) {
	srcDir := t.TempDir()
	good := writeSource(t, srcDir, "good.txt", "ok")
	missing1 := filepath.Join(srcDir, "gone1.txt")
	missing2 := filepath.Join(srcDir, "gone2.txt")

	// CheckMapping would catch missing sources up front; hand the mapping
	// straight to Populate to exercise the transfer error path (sources
	// can vanish between check and transfer, e.g. removable media).
	cells := []models.CellMapping{{
		Pipeline:   "P",
		Collection: "C",
		Mapping: models.DataMapping{
			good:     {Destination: "keep/good.txt"},
			missing1: {Destination: "keep/gone1.txt"},
			missing2: {Destination: "keep/gone2.txt"},
		},
	}}

	root := filepath.Join(t.TempDir(), "ds")
	ds, err := dataset.Create(root, "ds", "", "", testLogger())
	require.NoError(t, err)

	err = ds.Populate(context.Background(), cells, dataset.PopulateOptions{})
	require.Error(t, err)

	var terrs *models.TransferErrors
	require.ErrorAs(t, err, &terrs)
	// The full error set surfaces, and the good file still transferred.
	assert.Len(t, terrs.Errors, 2)
	assert.FileExists(t, filepath.Join(root, "keep", "good.txt"))
	assert.False(t, ds.Valid())
	assert.FileExists(t, filepath.Join(root, dataset.InvalidMarker))
}

func TestMoveModeConsumesSources(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "clip.mp4", "video bytes")

	cells := []models.CellMapping{{
		Pipeline:   "P",
		Collection: "C",
		Mapping:    models.DataMapping{src: {Destination: "video/clip.mp4"}},
	}}

	root := filepath.Join(t.TempDir(), "ds")
	ds, err := dataset.Create(root, "ds", "", "", testLogger())
	require.NoError(t, err)
	require.NoError(t, ds.Populate(context.Background(), cells, dataset.PopulateOptions{Mode: models.OperationMove}))

	assert.NoFileExists(t, src)
	assert.FileExists(t, filepath.Join(root, "video", "clip.mp4"))
}

func TestLinkModeSharesBytes(t *testing.T) {
	srcDir := t.TempDir()
	src := writeSource(t, srcDir, "huge.tif", "tif bytes")

	cells := []models.CellMapping{{
		Pipeline:   "P",
		Collection: "C",
		Mapping:    models.DataMapping{src: {Destination: "stills/huge.tif"}},
	}}

	root := filepath.Join(t.TempDir(), "ds")
	ds, err := dataset.Create(root, "ds", "", "", testLogger())
	require.NoError(t, err)
	require.NoError(t, ds.Populate(context.Background(), cells, dataset.PopulateOptions{Mode: models.OperationLink}))

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(filepath.Join(root, "stills", "huge.tif"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(srcInfo, dstInfo), "link mode should hard-link, not duplicate")
}

func TestMetadataMergeOrdering(t *testing.T) {
	srcDir := t.TempDir()
	cells := []models.CellMapping{
		{Pipeline: "P2", Collection: "C", Mapping: models.DataMapping{
			writeSource(t, srcDir, "z.txt", "z"): {
				Destination: "b/z.txt",
				Records:     []models.MetadataRecord{{Note: "second"}},
			},
		}},
		{Pipeline: "P1", Collection: "C", Mapping: models.DataMapping{
			writeSource(t, srcDir, "a.txt", "a"): {
				Destination: "a/a.txt",
				Records:     []models.MetadataRecord{{Note: "first"}},
			},
		}},
	}

	root := filepath.Join(t.TempDir(), "ds")
	ds, err := dataset.Create(root, "ds", "", "", testLogger())
	require.NoError(t, err)
	require.NoError(t, ds.Populate(context.Background(), cells, dataset.PopulateOptions{}))

	records, err := ds.Metadata()
	require.NoError(t, err)
	require.Len(t, records, 2)
	// File-path sort order regardless of cell arrival order.
	assert.Equal(t, "a/a.txt", records[0].Path)
	assert.Equal(t, "b/z.txt", records[1].Path)
}

func TestDatasetCreateRefusesExistingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ds")
	require.NoError(t, os.MkdirAll(root, 0o755))

	_, err := dataset.Create(root, "ds", "", "", testLogger())
	require.Error(t, err)
}
