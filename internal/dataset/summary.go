package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/csiro-fair/marimba/internal/models"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".tif": {}, ".tiff": {},
	".cr2": {}, ".cr3": {}, ".nef": {}, ".arw": {}, ".dng": {}, ".raw": {},
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".mts": {}, ".m2ts": {},
}

func fileKind(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageExtensions[ext]; ok {
		return "image"
	}
	if _, ok := videoExtensions[ext]; ok {
		return "video"
	}
	return "other"
}

// summaryStats are the aggregate statistics derived purely from the merged
// metadata and the transferred file set.
type summaryStats struct {
	imageCount int
	videoCount int
	otherCount int
	totalBytes int64

	earliest, latest *time.Time
	minLat, maxLat   float64
	minLon, maxLon   float64
	geolocated       int
}

func computeStats(records []models.OutputRecord, transferred map[string]string, root string) (*summaryStats, error) {
	s := &summaryStats{}

	for dst := range transferred {
		switch fileKind(dst) {
		case "image":
			s.imageCount++
		case "video":
			s.videoCount++
		default:
			s.otherCount++
		}
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(dst)))
		if err != nil {
			return nil, fmt.Errorf("sizing %s: %w", dst, err)
		}
		s.totalBytes += info.Size()
	}

	for i := range records {
		rec := &records[i]
		if rec.DateTime != nil {
			if s.earliest == nil || rec.DateTime.Before(*s.earliest) {
				s.earliest = rec.DateTime
			}
			if s.latest == nil || rec.DateTime.After(*s.latest) {
				s.latest = rec.DateTime
			}
		}
		if rec.HasGeolocation() {
			lat, lon := *rec.Latitude, *rec.Longitude
			if s.geolocated == 0 {
				s.minLat, s.maxLat = lat, lat
				s.minLon, s.maxLon = lon, lon
			} else {
				s.minLat = min(s.minLat, lat)
				s.maxLat = max(s.maxLat, lat)
				s.minLon = min(s.minLon, lon)
				s.maxLon = max(s.maxLon, lon)
			}
			s.geolocated++
		}
	}

	return s, nil
}

// writeSummary renders the dataset summary document.
func (d *Dataset) writeSummary(records []models.OutputRecord, transferred map[string]string) error {
	stats, err := computeStats(records, transferred, d.root)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Dataset %s\n\n", d.name)
	if d.version != "" {
		fmt.Fprintf(&b, "- Version: %s\n", d.version)
	}
	if d.contact != "" {
		fmt.Fprintf(&b, "- Contact: %s\n", d.contact)
	}
	fmt.Fprintf(&b, "- Packaged: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	fmt.Fprintf(&b, "## Contents\n\n")
	fmt.Fprintf(&b, "| Kind | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Images | %d |\n", stats.imageCount)
	fmt.Fprintf(&b, "| Videos | %d |\n", stats.videoCount)
	fmt.Fprintf(&b, "| Other | %d |\n\n", stats.otherCount)
	fmt.Fprintf(&b, "Total size: %d bytes\n", stats.totalBytes)
	fmt.Fprintf(&b, "Metadata records: %d\n", len(records))

	if stats.earliest != nil && stats.latest != nil {
		fmt.Fprintf(&b, "\n## Temporal extent\n\n%s to %s\n",
			stats.earliest.UTC().Format(time.RFC3339), stats.latest.UTC().Format(time.RFC3339))
	}
	if stats.geolocated > 0 {
		fmt.Fprintf(&b, "\n## Spatial extent\n\n")
		fmt.Fprintf(&b, "%d geolocated records; bounding box latitude [%.6f, %.6f], longitude [%.6f, %.6f]\n",
			stats.geolocated, stats.minLat, stats.maxLat, stats.minLon, stats.maxLon)
	}

	if err := os.WriteFile(filepath.Join(d.root, SummaryFilename), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}
