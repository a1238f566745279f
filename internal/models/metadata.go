package models

import "time"

// MetadataRecord describes one processed item in a dataset. The named fields
// cover the common iFDO-style acquisition attributes; anything a pipeline
// wants to carry beyond those goes in Extra.
type MetadataRecord struct {
	ID           string     `yaml:"id,omitempty" json:"id,omitempty"`
	DateTime     *time.Time `yaml:"datetime,omitempty" json:"datetime,omitempty"`
	Latitude     *float64   `yaml:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude    *float64   `yaml:"longitude,omitempty" json:"longitude,omitempty"`
	AltitudeM    *float64   `yaml:"altitude_meters,omitempty" json:"altitude_meters,omitempty"`
	Context      string     `yaml:"context,omitempty" json:"context,omitempty"`
	PlatformName string     `yaml:"platform_name,omitempty" json:"platform_name,omitempty"`
	SensorName   string     `yaml:"sensor_name,omitempty" json:"sensor_name,omitempty"`
	Creators     []string   `yaml:"creators,omitempty" json:"creators,omitempty"`
	License      string     `yaml:"license,omitempty" json:"license,omitempty"`
	Note         string     `yaml:"note,omitempty" json:"note,omitempty"`

	// HashSHA256 is filled in by the packaging engine after transfer; any
	// value a pipeline sets here is overwritten.
	HashSHA256 string `yaml:"hash_sha256,omitempty" json:"hash_sha256,omitempty"`

	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// HasGeolocation reports whether the record carries a usable lat/lon pair.
func (r *MetadataRecord) HasGeolocation() bool {
	if r.Latitude == nil || r.Longitude == nil {
		return false
	}
	lat, lon := *r.Latitude, *r.Longitude
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// OutputRecord is one entry of the dataset-level metadata document: a
// MetadataRecord bound to the dataset-relative path it describes.
type OutputRecord struct {
	Path           string `yaml:"path" json:"path"`
	MetadataRecord `yaml:",inline" json:",inline"`
}
