package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/csiro-fair/marimba/internal/models"
)

// writeOverview renders the spatial overview artifact: a longitude/latitude
// scatter of every geolocated record. Datasets without positional metadata
// get no overview file.
func (d *Dataset) writeOverview(records []models.OutputRecord) error {
	var data []opts.ScatterData
	minLat, maxLat := 90.0, -90.0
	minLon, maxLon := 180.0, -180.0

	for i := range records {
		rec := &records[i]
		if !rec.HasGeolocation() {
			continue
		}
		lat, lon := *rec.Latitude, *rec.Longitude
		minLat, maxLat = min(minLat, lat), max(maxLat, lat)
		minLon, maxLon = min(minLon, lon), max(maxLon, lon)
		data = append(data, opts.ScatterData{
			Name:  rec.Path,
			Value: []interface{}{lon, lat},
		})
	}

	if len(data) == 0 {
		d.logger.Debug("no geolocated records, skipping spatial overview")
		return nil
	}

	// Pad the extent slightly so edge points stay visible.
	latPad := (maxLat - minLat) * 0.05
	lonPad := (maxLon - minLon) * 0.05
	if latPad == 0 {
		latPad = 0.01
	}
	if lonPad == 0 {
		lonPad = 0.01
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("Dataset %s spatial overview", d.name),
			Width:     "900px",
			Height:    "700px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Dataset %s", d.name),
			Subtitle: fmt.Sprintf("%d geolocated records", len(data)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon - lonPad, Max: maxLon + lonPad, Name: "Longitude"}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat - latPad, Max: maxLat + latPad, Name: "Latitude"}),
	)
	scatter.AddSeries("captures", data,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	f, err := os.Create(filepath.Join(d.root, OverviewFilename))
	if err != nil {
		return fmt.Errorf("writing spatial overview: %w", err)
	}
	defer f.Close()

	if err := scatter.Render(f); err != nil {
		return fmt.Errorf("rendering spatial overview: %w", err)
	}

	d.logger.Info("wrote spatial overview", "geolocated_records", len(data))
	return nil
}
