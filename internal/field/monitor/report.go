package monitor

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pointfield/internal/field/engine"
)

// RenderOccupancyReport writes an HTML page with per-level occupancy and
// candidate-count bar charts for s.
func RenderOccupancyReport(w io.Writer, s engine.Stats) error {
	x := make([]string, len(s.Levels))
	occupied := make([]opts.BarData, len(s.Levels))
	saturated := make([]opts.BarData, len(s.Levels))
	mean := make([]opts.BarData, len(s.Levels))
	limit := make([]opts.BarData, len(s.Levels))
	for i, l := range s.Levels {
		x[i] = fmt.Sprintf("L%d", l.Level)
		occupied[i] = opts.BarData{Value: l.Occupied}
		saturated[i] = opts.BarData{Value: l.Saturated}
		mean[i] = opts.BarData{Value: l.MeanCandidates}
		limit[i] = opts.BarData{Value: l.MaxCandidates}
	}

	subtitle := fmt.Sprintf("grid=%dx%dx%d covered=%d/%d", s.GridSize[0], s.GridSize[1], s.GridSize[2], s.Covered, s.Voxels)
	if s.HasMask {
		subtitle += fmt.Sprintf(" mask=%.1f%%", 100*s.MaskOccupancy)
	}

	voxels := charts.NewBar()
	voxels.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Field Occupancy", Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occupied voxels", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
	)
	voxels.SetXAxis(x).
		AddSeries("occupied", occupied).
		AddSeries("saturated", saturated,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	candidates := charts.NewBar()
	candidates.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Candidates per voxel"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
	)
	candidates.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("cap", limit)

	page := components.NewPage()
	page.AddCharts(voxels, candidates)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render occupancy report: %w", err)
	}
	return nil
}
