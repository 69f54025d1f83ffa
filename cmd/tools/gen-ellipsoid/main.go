// Command gen-ellipsoid emits synthetic magnetometer readings swept over an
// ellipsoid surface as CSV, for fixtures and manual fit testing.
package main

import (
	"encoding/csv"
	"flag"
	"log"
	"math/rand"
	"os"
	"strconv"

	"github.com/banshee-data/compass.report/internal/mag"
)

func main() {
	output := flag.String("o", "samples.csv", "output path")
	meshN := flag.Int("n", 10, "mesh divisions (emits n*n samples)")
	cx := flag.Float64("cx", 0, "ellipsoid centre x")
	cy := flag.Float64("cy", 0, "ellipsoid centre y")
	cz := flag.Float64("cz", 0, "ellipsoid centre z")
	ax := flag.Float64("a", 40, "semi-axis along x")
	ay := flag.Float64("b", 40, "semi-axis along y")
	az := flag.Float64("c", 40, "semi-axis along z")
	noise := flag.Float64("noise", 0, "noise scale")
	seed := flag.Int64("seed", 1, "random seed for noise")
	yaw := flag.Float64("yaw", 0, "rotation about z in radians")
	pitch := flag.Float64("pitch", 0, "rotation about y in radians")
	roll := flag.Float64("roll", 0, "rotation about x in radians")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	samples, err := mag.EllipsoidPoints(*cx, *cy, *cz, *ax, *ay, *az, *meshN, *noise, rng)
	if err != nil {
		log.Fatalf("failed to generate samples: %v", err)
	}

	if *yaw != 0 || *pitch != 0 || *roll != 0 {
		// Rotate about the centre so the offset survives as a plain hard iron.
		rot := mag.EulerRotation(*yaw, *pitch, *roll)
		for i, s := range samples {
			centred := mag.Sample{X: s.X - *cx, Y: s.Y - *cy, Z: s.Z - *cz}
			r := mag.RotateSample(rot, centred)
			samples[i] = mag.Sample{X: r.X + *cx, Y: r.Y + *cy, Z: r.Z + *cz}
		}
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, s := range samples {
		record := []string{
			strconv.FormatFloat(s.X, 'f', -1, 64),
			strconv.FormatFloat(s.Y, 'f', -1, 64),
			strconv.FormatFloat(s.Z, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			log.Fatalf("failed to write sample: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("failed to flush output: %v", err)
	}

	log.Printf("✓ Wrote %d samples to %s", len(samples), *output)
}
