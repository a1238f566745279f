package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csiro-fair/marimba/internal/config"
)

func TestResolveDefaults(t *testing.T) {
	schema := config.Schema{
		"site_id":      "A",
		"voyage_pi":    "unknown",
		"depth_rating": 500.0,
		"calibrated":   false,
	}

	values, err := config.Resolve(schema, nil)
	require.NoError(t, err)

	assert.Equal(t, "A", values["site_id"])
	assert.Equal(t, "unknown", values["voyage_pi"])
	assert.Equal(t, 500.0, values["depth_rating"])
	assert.Equal(t, false, values["calibrated"])
}

func TestResolveOverrides(t *testing.T) {
	schema := config.Schema{"site_id": "A", "depth_rating": 500.0}

	values, err := config.Resolve(schema, map[string]any{
		"site_id":      "REEF-1",
		"depth_rating": 1000, // int widened to float64
	})
	require.NoError(t, err)

	assert.Equal(t, "REEF-1", values["site_id"])
	assert.Equal(t, 1000.0, values["depth_rating"])
}

func TestResolveUnknownKeyFailsFast(t *testing.T) {
	schema := config.Schema{"site_id": "A"}

	_, err := config.Resolve(schema, map[string]any{"site": "REEF-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared in schema")
}

func TestResolveTypeMismatch(t *testing.T) {
	schema := config.Schema{"site_id": "A"}

	_, err := config.Resolve(schema, map[string]any{"site_id": 42})
	require.Error(t, err)
}

func TestResolveDateField(t *testing.T) {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	schema := config.Schema{"deployed_at": epoch}

	values, err := config.Resolve(schema, map[string]any{
		"deployed_at": "2024-06-15T10:30:00Z",
	})
	require.NoError(t, err)

	got, ok := values["deployed_at"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, got.Year())
}

func TestSchemaRejectsNonPrimitiveDefault(t *testing.T) {
	schema := config.Schema{"cameras": []string{"left", "right"}}

	_, err := config.Resolve(schema, nil)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.yml")
	in := config.Values{"site_id": "REEF-1", "depth_rating": 500.0}

	require.NoError(t, config.Save(path, in))
	out, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "REEF-1", out["site_id"])
}

func TestCloneIsIndependent(t *testing.T) {
	orig := config.Values{"site_id": "A"}
	clone := orig.Clone()
	clone["site_id"] = "B"

	assert.Equal(t, "A", orig["site_id"])
}
