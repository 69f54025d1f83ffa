// Command fit-file reads raw magnetometer samples from a CSV file, fits a
// calibration, and prints it as JSON. With -plots it also replays the run
// through a coverage tracker and renders the progression as PNGs.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/banshee-data/compass.report/internal/mag"
	"github.com/banshee-data/compass.report/internal/mag/monitor"
)

func main() {
	input := flag.String("i", "", "input CSV of x,y,z readings")
	strategyName := flag.String("strategy", "sphere", "fit strategy: sphere, ellipsoid, ellipsoid-rotated, or ellipsoid-rotated-alt")
	meshN := flag.Int("mesh-n", 10, "coverage mesh divisions")
	maxIterations := flag.Int("max-iterations", 0, "optimizer iteration cap (0 for the default)")
	plotsDir := flag.String("plots", "", "directory for progress PNGs (omit to skip plotting)")
	flag.Parse()

	if *input == "" {
		log.Fatal("input CSV is required (-i)")
	}
	strategy, err := mag.ParseStrategy(*strategyName)
	if err != nil {
		log.Fatal(err)
	}

	samples, err := readSamples(*input)
	if err != nil {
		log.Fatalf("failed to read samples: %v", err)
	}
	if len(samples) < mag.MinSamples(strategy) {
		log.Fatalf("%d samples is too few for a %s fit (need %d)", len(samples), strategy, mag.MinSamples(strategy))
	}

	calib, err := mag.FitWithOptions(strategy, samples, mag.FitOptions{MaxIterations: *maxIterations})
	if err != nil {
		log.Fatalf("fit failed: %v", err)
	}

	if *plotsDir != "" {
		if err := renderPlots(*plotsDir, *meshN, samples); err != nil {
			log.Fatalf("failed to render plots: %v", err)
		}
	}

	out, err := json.MarshalIndent(calib, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode calibration: %v", err)
	}
	fmt.Println(string(out))
}

// readSamples parses x,y,z rows. Unparseable rows before the first valid one
// are treated as a header and skipped.
func readSamples(path string) ([]mag.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	var samples []mag.Sample
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		x, errX := strconv.ParseFloat(record[0], 64)
		y, errY := strconv.ParseFloat(record[1], 64)
		z, errZ := strconv.ParseFloat(record[2], 64)
		if errX != nil || errY != nil || errZ != nil {
			if len(samples) == 0 {
				continue
			}
			return nil, fmt.Errorf("unparseable row %v", record)
		}
		samples = append(samples, mag.Sample{X: x, Y: y, Z: z})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in %s", path)
	}
	return samples, nil
}

// renderPlots replays the samples through a coverage tracker, snapshotting
// progress on a fixed cadence, and writes the monitor PNGs.
func renderPlots(dir string, meshN int, samples []mag.Sample) error {
	cp := monitor.NewCoveragePlotter()
	if err := cp.Start(dir); err != nil {
		return err
	}

	tracker, err := mag.NewTracker(meshN)
	if err != nil {
		return err
	}

	cadence := len(samples) / 50
	if cadence < 1 {
		cadence = 1
	}

	var hardIron [3]float64
	rmse := 0.0
	outside := 0
	for i, s := range samples {
		// Judge coverage on the centred reading, the way the live recorder does.
		_, polar, azimuth := mag.ToSpherical(s.X-hardIron[0], s.Y-hardIron[1], s.Z-hardIron[2])
		if err := tracker.UpdateSinglePoint(polar, azimuth); err != nil {
			outside++
		}

		if (i+1)%cadence == 0 || i == len(samples)-1 {
			// Refresh the centre estimate with a quick sphere fit. Early
			// prefixes can be degenerate; a failure keeps the previous
			// estimate.
			if calib, err := mag.Fit(mag.StrategySphere, samples[:i+1]); err == nil {
				hardIron = calib.HardIron
				rmse = calib.RMSE
			}
			cp.Sample(i+1, tracker.Percentage(), rmse)
		}
	}
	if outside > 0 {
		log.Printf("%d samples fell outside the mesh", outside)
	}

	cells, sampled := tracker.Segments()
	cp.SampleCells(cells, sampled)
	cp.Stop()

	n, err := cp.GeneratePlots()
	if err != nil {
		return err
	}
	log.Printf("✓ Wrote %d plots to %s", n, dir)
	return nil
}
