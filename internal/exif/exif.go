// Package exif writes identifying metadata into the embedded tag region of
// files whose format supports one. Packaging calls Embed for every file that
// carries metadata records; formats without a writable tag region report
// ErrUnsupported and the caller skips them without failing the run.
package exif

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"

	"github.com/csiro-fair/marimba/internal/models"
)

// ErrUnsupported marks a file format with no embeddable tag region.
var ErrUnsupported = errors.New("file format does not support embedded tags")

// IsUnsupported reports whether an Embed failure just means the format has
// no tag region.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// writableExtensions are the formats Embed can rewrite in place. The
// JPEG-family is the only one with a writer here; RAW and TIFF variants
// carry EXIF but rewriting them safely needs format-specific tooling.
var writableExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
}

// Embed injects the record's identifying fields (timestamp, location,
// provenance note) and content hash into the file's embedded tags. The file
// is rewritten in place.
func Embed(path string, rec models.MetadataRecord) error {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := writableExtensions[ext]; !ok {
		return fmt.Errorf("%s: %w", ext, ErrUnsupported)
	}

	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		// No existing EXIF block; start a fresh one.
		im, err := exifcommon.NewIfdMappingWithStandard()
		if err != nil {
			return fmt.Errorf("building IFD mapping: %w", err)
		}
		rootIb = exif.NewIfdBuilder(im, exif.NewTagIndex(),
			exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	ifd0, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return fmt.Errorf("resolving IFD0: %w", err)
	}

	description := buildDescription(rec)
	if err := ifd0.SetStandardWithName("ImageDescription", description); err != nil {
		return fmt.Errorf("setting ImageDescription: %w", err)
	}

	if rec.DateTime != nil {
		stamp := rec.DateTime.UTC().Format("2006:01:02 15:04:05")
		if err := ifd0.SetStandardWithName("DateTime", stamp); err != nil {
			return fmt.Errorf("setting DateTime: %w", err)
		}
		exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0/Exif")
		if err != nil {
			return fmt.Errorf("resolving Exif IFD: %w", err)
		}
		if err := exifIb.SetStandardWithName("DateTimeOriginal", stamp); err != nil {
			return fmt.Errorf("setting DateTimeOriginal: %w", err)
		}
	}

	if rec.Latitude != nil && rec.Longitude != nil {
		if err := setGPS(rootIb, *rec.Latitude, *rec.Longitude, rec.AltitudeM); err != nil {
			return err
		}
	}

	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("attaching EXIF block: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return fmt.Errorf("serializing %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("rewriting %s: %w", path, err)
	}
	return nil
}

// buildDescription condenses the provenance fields into the single free-text
// tag every EXIF reader understands.
func buildDescription(rec models.MetadataRecord) string {
	parts := make([]string, 0, 3)
	if rec.Note != "" {
		parts = append(parts, rec.Note)
	}
	if rec.Context != "" {
		parts = append(parts, "context="+rec.Context)
	}
	if rec.HashSHA256 != "" {
		parts = append(parts, "sha256="+rec.HashSHA256)
	}
	return strings.Join(parts, "; ")
}

func setGPS(rootIb *exif.IfdBuilder, lat, lon float64, altitude *float64) error {
	gpsIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0/GPSInfo")
	if err != nil {
		return fmt.Errorf("resolving GPS IFD: %w", err)
	}

	latRef, lonRef := "N", "E"
	if lat < 0 {
		latRef = "S"
	}
	if lon < 0 {
		lonRef = "W"
	}

	set := func(name string, value any) error {
		if err := gpsIb.SetStandardWithName(name, value); err != nil {
			return fmt.Errorf("setting %s: %w", name, err)
		}
		return nil
	}

	if err := set("GPSLatitudeRef", latRef); err != nil {
		return err
	}
	if err := set("GPSLatitude", degreesToRationals(lat)); err != nil {
		return err
	}
	if err := set("GPSLongitudeRef", lonRef); err != nil {
		return err
	}
	if err := set("GPSLongitude", degreesToRationals(lon)); err != nil {
		return err
	}

	if altitude != nil {
		ref := []byte{0} // above sea level
		alt := *altitude
		if alt < 0 {
			ref[0] = 1
			alt = -alt
		}
		if err := set("GPSAltitudeRef", ref); err != nil {
			return err
		}
		if err := set("GPSAltitude", []exifcommon.Rational{{
			Numerator:   uint32(math.Round(alt * 100)),
			Denominator: 100,
		}}); err != nil {
			return err
		}
	}

	return nil
}

// degreesToRationals converts decimal degrees to the EXIF
// degrees/minutes/seconds rational triple.
func degreesToRationals(deg float64) []exifcommon.Rational {
	deg = math.Abs(deg)
	d := math.Floor(deg)
	m := math.Floor((deg - d) * 60)
	s := (deg - d - m/60) * 3600

	return []exifcommon.Rational{
		{Numerator: uint32(d), Denominator: 1},
		{Numerator: uint32(m), Denominator: 1},
		{Numerator: uint32(math.Round(s * 1000)), Denominator: 1000},
	}
}
