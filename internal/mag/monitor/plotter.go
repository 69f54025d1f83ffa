// Package monitor renders recording-run progress: PNG series plots for
// offline inspection and go-echarts HTML pages for quick in-browser checks.
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/compass.report/internal/mag"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// CoveragePlotter records run progress over time for visualization.
// Call Sample() on whatever cadence suits the caller; the accumulated
// series are plotted after the run with GeneratePlots().
type CoveragePlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string

	series []ProgressSample

	// Latest mesh snapshot, for the cell scatter.
	cells   []mag.Cell
	sampled []bool
}

// ProgressSample is one snapshot of a run's progress.
type ProgressSample struct {
	SampleCount int
	CoveragePct float64
	// RMSE stays zero until the first fit lands.
	RMSE float64
}

// NewCoveragePlotter creates a disabled plotter. Call Start to begin
// recording snapshots.
func NewCoveragePlotter() *CoveragePlotter {
	return &CoveragePlotter{}
}

// Start initializes the plotter for a new run.
// outputDir should be a timestamped directory (e.g., "plots/run-001/20260825_101500").
func (cp *CoveragePlotter) Start(outputDir string) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	cp.outputDir = outputDir
	cp.enabled = true
	cp.series = nil
	cp.cells = nil
	cp.sampled = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots() to produce output files.
func (cp *CoveragePlotter) Stop() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (cp *CoveragePlotter) IsEnabled() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.enabled
}

// Sample appends one progress snapshot. Pass a zero rmse while no fit has
// run yet; zero points are left out of the RMSE series.
func (cp *CoveragePlotter) Sample(sampleCount int, coveragePct, rmse float64) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.enabled {
		return
	}
	cp.series = append(cp.series, ProgressSample{
		SampleCount: sampleCount,
		CoveragePct: coveragePct,
		RMSE:        rmse,
	})
}

// SampleCells replaces the stored mesh snapshot used for the cell scatter.
// The slices are copied so the caller may reuse them.
func (cp *CoveragePlotter) SampleCells(cells []mag.Cell, sampled []bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if !cp.enabled {
		return
	}
	cp.cells = make([]mag.Cell, len(cells))
	copy(cp.cells, cells)
	cp.sampled = make([]bool, len(sampled))
	copy(cp.sampled, sampled)
}

// SnapshotCount returns the number of progress snapshots collected.
func (cp *CoveragePlotter) SnapshotCount() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.series)
}

// GetOutputDir returns the current output directory for plots.
func (cp *CoveragePlotter) GetOutputDir() string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.outputDir
}

// GeneratePlots writes one PNG per recorded series plus a cell-coverage
// scatter when a mesh snapshot exists. Returns the number of files written.
func (cp *CoveragePlotter) GeneratePlots() (int, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}

	written := 0
	if len(cp.series) > 0 {
		countPts := make(plotter.XYs, 0, len(cp.series))
		coverPts := make(plotter.XYs, 0, len(cp.series))
		rmsePts := make(plotter.XYs, 0, len(cp.series))
		for i, s := range cp.series {
			x := float64(i)
			countPts = append(countPts, plotter.XY{X: x, Y: float64(s.SampleCount)})
			coverPts = append(coverPts, plotter.XY{X: x, Y: s.CoveragePct})
			// Skip snapshots taken before the first fit.
			if s.RMSE > 0 {
				rmsePts = append(rmsePts, plotter.XY{X: x, Y: s.RMSE})
			}
		}

		if err := cp.saveLinePlot("Samples Recorded", "Samples",
			filepath.Join(cp.outputDir, "sample_count.png"), countPts,
			color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 255}); err != nil {
			return written, fmt.Errorf("save sample count plot: %w", err)
		}
		written++

		if err := cp.saveLinePlot("Mesh Coverage", "Coverage (%)",
			filepath.Join(cp.outputDir, "coverage_pct.png"), coverPts,
			color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 255}); err != nil {
			return written, fmt.Errorf("save coverage plot: %w", err)
		}
		written++

		if len(rmsePts) > 0 {
			if err := cp.saveLinePlot("Fit RMSE", "RMSE",
				filepath.Join(cp.outputDir, "fit_rmse.png"), rmsePts,
				color.RGBA{R: 0xfd, G: 0xe7, B: 0x25, A: 255}); err != nil {
				return written, fmt.Errorf("save rmse plot: %w", err)
			}
			written++
		}
	}

	if len(cp.cells) > 0 {
		if err := cp.saveCellScatter(filepath.Join(cp.outputDir, "coverage_cells.png")); err != nil {
			return written, fmt.Errorf("save cell scatter: %w", err)
		}
		written++
	}

	return written, nil
}

func (cp *CoveragePlotter) saveLinePlot(title, yLabel, file string, pts plotter.XYs, c color.Color) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Snapshot"
	p.Y.Label.Text = yLabel

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

// saveCellScatter plots cell centroids in degree space, sampled cells in
// green and unsampled in grey.
func (cp *CoveragePlotter) saveCellScatter(file string) error {
	p := plot.New()
	p.Title.Text = "Mesh Coverage"
	p.X.Label.Text = "Azimuth (deg)"
	p.Y.Label.Text = "Polar (deg)"
	p.X.Min, p.X.Max = -180, 180
	p.Y.Min, p.Y.Max = 0, 180

	var sampledPts, unsampledPts plotter.XYs
	for i, c := range cp.cells {
		polarDeg, azDeg := cellCentroid(c)
		pt := plotter.XY{X: azDeg, Y: polarDeg}
		if i < len(cp.sampled) && cp.sampled[i] {
			sampledPts = append(sampledPts, pt)
		} else {
			unsampledPts = append(unsampledPts, pt)
		}
	}

	if len(unsampledPts) > 0 {
		s, err := plotter.NewScatter(unsampledPts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 255}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add("unsampled", s)
	}

	if len(sampledPts) > 0 {
		s, err := plotter.NewScatter(sampledPts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = color.RGBA{R: 0x35, G: 0xb7, B: 0x79, A: 255}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add("sampled", s)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(8*vg.Inch, 6*vg.Inch, file)
}

// cellCentroid averages a cell's vertices and converts to degrees.
func cellCentroid(c mag.Cell) (polarDeg, azimuthDeg float64) {
	var polar, azimuth float64
	for _, v := range c {
		polar += v.Polar
		azimuth += v.Azimuth
	}
	return polar / 4 * 180 / math.Pi, azimuth / 4 * 180 / math.Pi
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir creates a timestamped output directory path for plots.
// For a known session: plots/<session>/<timestamp>
// Otherwise: plots/run_<timestamp>
func MakePlotOutputDir(baseDir, sessionID string) string {
	ts := FormatTimestamp(time.Now())
	if sessionID != "" {
		return filepath.Join(baseDir, sessionID, ts)
	}
	return filepath.Join(baseDir, "run_"+ts)
}
