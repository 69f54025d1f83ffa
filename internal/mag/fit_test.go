package mag

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func vecNear(t *testing.T, name string, got, want [3]float64, tol float64) {
	t.Helper()
	for k := 0; k < 3; k++ {
		if !approx(got[k], want[k], tol) {
			t.Errorf("%s = %v, want %v (axis %d off by %v)", name, got, want, k, got[k]-want[k])
			return
		}
	}
}

func matNear(t *testing.T, name string, got, want [3][3]float64, tol float64) {
	t.Helper()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if !approx(got[r][c], want[r][c], tol) {
				t.Errorf("%s = %v, want %v (entry %d,%d off by %v)", name, got, want, r, c, got[r][c]-want[r][c])
				return
			}
		}
	}
}

func assertOrthonormal(t *testing.T, r [3][3]float64, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += r[i][k] * r[j][k]
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if !approx(dot, want, tol) {
				t.Errorf("(R*R^T)[%d][%d] = %v, want %v", i, j, dot, want)
			}
		}
	}
	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	if !approx(det, 1, tol) {
		t.Errorf("det(R) = %v, want +1", det)
	}
}

// rotatedEllipsoidSamples builds a noiseless ellipsoid with semi-axes
// (30,35,40), rotates it by yaw 30 / pitch 45 / roll 25 degrees about its
// centre, then offsets it to (10,-10,15).
func rotatedEllipsoidSamples(t *testing.T) ([]Sample, [3][3]float64) {
	t.Helper()
	base, err := EllipsoidPoints(0, 0, 0, 30, 35, 40, 20, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}
	r := EulerRotation(30*math.Pi/180, 45*math.Pi/180, 25*math.Pi/180)
	samples := make([]Sample, len(base))
	for k, s := range base {
		rs := RotateSample(r, s)
		samples[k] = Sample{X: rs.X + 10, Y: rs.Y - 10, Z: rs.Z + 15}
	}
	return samples, r
}

func TestFitSphere_RoundTrip(t *testing.T) {
	samples, err := EllipsoidPoints(10, 10, 10, 35, 35, 35, 20, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}

	cal, err := Fit(StrategySphere, samples)
	if err != nil {
		t.Fatalf("Fit(sphere) returned error: %v", err)
	}

	vecNear(t, "HardIron", cal.HardIron, [3]float64{10, 10, 10}, 0.1)
	vecNear(t, "SemiAxes", cal.SemiAxes, [3]float64{35, 35, 35}, 0.1)
	matNear(t, "Rotation", cal.Rotation, identity3(), 1e-9)
	for k := 0; k < 3; k++ {
		if !approx(cal.SoftIron[k][k], 1.0/35.0, 1e-3) {
			t.Errorf("SoftIron[%d][%d] = %v, want %v", k, k, cal.SoftIron[k][k], 1.0/35.0)
		}
	}
	if cal.Strategy != StrategySphere {
		t.Errorf("Strategy = %q, want %q", cal.Strategy, StrategySphere)
	}
}

func TestFitSphere_CentreOutsideRadius(t *testing.T) {
	// A centre farther from the origin than the radius flips the sign of the
	// guess conversion denominator; the fit must still recover.
	samples, err := EllipsoidPoints(60, -80, 40, 35, 35, 35, 20, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}

	cal, err := Fit(StrategySphere, samples)
	if err != nil {
		t.Fatalf("Fit(sphere) returned error: %v", err)
	}
	vecNear(t, "HardIron", cal.HardIron, [3]float64{60, -80, 40}, 0.1)
	vecNear(t, "SemiAxes", cal.SemiAxes, [3]float64{35, 35, 35}, 0.1)
}

func TestFitEllipsoid_RoundTrip(t *testing.T) {
	samples, err := EllipsoidPoints(10, -10, 15, 35, 45, 50, 20, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}

	cal, err := Fit(StrategyEllipsoid, samples)
	if err != nil {
		t.Fatalf("Fit(ellipsoid) returned error: %v", err)
	}

	vecNear(t, "HardIron", cal.HardIron, [3]float64{10, -10, 15}, 0.1)
	vecNear(t, "SemiAxes", cal.SemiAxes, [3]float64{35, 45, 50}, 0.1)
	matNear(t, "Rotation", cal.Rotation, identity3(), 1e-9)
	for k, want := range []float64{1.0 / 35.0, 1.0 / 45.0, 1.0 / 50.0} {
		if !approx(cal.SoftIron[k][k], want, 1e-3) {
			t.Errorf("SoftIron[%d][%d] = %v, want %v", k, k, cal.SoftIron[k][k], want)
		}
	}
}

func TestFitEllipsoidRotated_RoundTrip(t *testing.T) {
	samples, _ := rotatedEllipsoidSamples(t)

	cal, err := Fit(StrategyEllipsoidRotated, samples)
	if err != nil {
		t.Fatalf("Fit(ellipsoid-rotated) returned error: %v", err)
	}

	vecNear(t, "HardIron", cal.HardIron, [3]float64{10, -10, 15}, 0.1)

	axes := []float64{cal.SemiAxes[0], cal.SemiAxes[1], cal.SemiAxes[2]}
	sort.Float64s(axes)
	for k, want := range []float64{30, 35, 40} {
		if !approx(axes[k], want, 0.1) {
			t.Errorf("sorted semi-axes = %v, want [30 35 40]", axes)
			break
		}
	}

	assertOrthonormal(t, cal.Rotation, 1e-6)

	// Corrected readings must land on the unit sphere.
	for k, s := range samples {
		c := cal.Apply(s)
		norm := math.Sqrt(c.X*c.X + c.Y*c.Y + c.Z*c.Z)
		if !approx(norm, 1, 1e-3) {
			t.Fatalf("corrected sample %d has norm %v, want 1", k, norm)
		}
	}

	// The fit already canonicalizes; a second pass must change nothing.
	axes2, rot2 := CanonicalizeRotation(cal.SemiAxes, cal.Rotation)
	if axes2 != cal.SemiAxes || rot2 != cal.Rotation {
		t.Error("calibration rotation is not in canonical form")
	}
}

func TestFitEllipsoidRotatedAlt_RoundTrip(t *testing.T) {
	samples, _ := rotatedEllipsoidSamples(t)

	cal, err := Fit(StrategyEllipsoidRotatedAlt, samples)
	if err != nil {
		t.Fatalf("Fit(ellipsoid-rotated-alt) returned error: %v", err)
	}

	vecNear(t, "HardIron", cal.HardIron, [3]float64{10, -10, 15}, 0.1)

	axes := []float64{cal.SemiAxes[0], cal.SemiAxes[1], cal.SemiAxes[2]}
	sort.Float64s(axes)
	for k, want := range []float64{30, 35, 40} {
		if !approx(axes[k], want, 0.1) {
			t.Errorf("sorted semi-axes = %v, want [30 35 40]", axes)
			break
		}
	}

	assertOrthonormal(t, cal.Rotation, 1e-6)
	for k, s := range samples {
		c := cal.Apply(s)
		norm := math.Sqrt(c.X*c.X + c.Y*c.Y + c.Z*c.Z)
		if !approx(norm, 1, 1e-3) {
			t.Fatalf("corrected sample %d has norm %v, want 1", k, norm)
		}
	}
}

func TestFitEllipsoidRotatedAlt_AgreesWithRotated(t *testing.T) {
	samples, _ := rotatedEllipsoidSamples(t)

	direct, err := Fit(StrategyEllipsoidRotated, samples)
	if err != nil {
		t.Fatalf("Fit(ellipsoid-rotated) returned error: %v", err)
	}
	alt, err := Fit(StrategyEllipsoidRotatedAlt, samples)
	if err != nil {
		t.Fatalf("Fit(ellipsoid-rotated-alt) returned error: %v", err)
	}

	vecNear(t, "alt HardIron", alt.HardIron, direct.HardIron, 0.1)
	vecNear(t, "alt SemiAxes", alt.SemiAxes, direct.SemiAxes, 0.1)
}

func TestFitEllipsoid_NoisySamples(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	samples, err := EllipsoidPoints(10, -10, 15, 35, 45, 50, 20, 1.0, rng)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}

	cal, err := Fit(StrategyEllipsoid, samples)
	if err != nil {
		t.Fatalf("Fit(ellipsoid) returned error: %v", err)
	}

	vecNear(t, "HardIron", cal.HardIron, [3]float64{10, -10, 15}, 1.5)
	vecNear(t, "SemiAxes", cal.SemiAxes, [3]float64{35, 45, 50}, 3)
	if cal.RMSE <= 0 || cal.RMSE > 0.2 {
		t.Errorf("RMSE = %v, want a small positive residual", cal.RMSE)
	}
}

func TestFit_TooFewSamples(t *testing.T) {
	full, err := EllipsoidPoints(0, 0, 0, 30, 30, 30, 4, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}

	tests := []struct {
		strategy Strategy
		count    int
	}{
		{StrategySphere, 3},
		{StrategyEllipsoid, 5},
		{StrategyEllipsoidRotated, 8},
		{StrategyEllipsoidRotatedAlt, 8},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			_, err := Fit(tt.strategy, full[:tt.count])
			if !errors.Is(err, ErrTooFewSamples) {
				t.Errorf("Fit with %d samples: error = %v, want ErrTooFewSamples", tt.count, err)
			}
		})
	}
}

func TestFit_UnknownStrategy(t *testing.T) {
	samples, err := EllipsoidPoints(0, 0, 0, 30, 30, 30, 4, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}
	if _, err := Fit(Strategy("banana"), samples); err == nil {
		t.Error("expected error for unknown strategy, got nil")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range ValidStrategies {
		got, err := ParseStrategy(string(s))
		if err != nil || got != s {
			t.Errorf("ParseStrategy(%q) = (%q, %v), want (%q, nil)", s, got, err, s)
		}
	}
	if _, err := ParseStrategy("magnet"); err == nil {
		t.Error("expected error for invalid strategy name, got nil")
	}
}

func TestMinSamples(t *testing.T) {
	tests := []struct {
		strategy Strategy
		want     int
	}{
		{StrategySphere, 4},
		{StrategyEllipsoid, 6},
		{StrategyEllipsoidRotated, 9},
		{StrategyEllipsoidRotatedAlt, 9},
	}
	for _, tt := range tests {
		if got := MinSamples(tt.strategy); got != tt.want {
			t.Errorf("MinSamples(%q) = %d, want %d", tt.strategy, got, tt.want)
		}
	}
}

func TestCalibrationApply(t *testing.T) {
	cal := &Calibration{
		SoftIron: [3][3]float64{{0.5, 0, 0}, {0, 0.5, 0}, {0, 0, 0.5}},
		HardIron: [3]float64{1, 2, 3},
	}
	got := cal.Apply(Sample{X: 3, Y: 4, Z: 5})
	want := Sample{X: 1, Y: 1, Z: 1}
	if got != want {
		t.Errorf("Apply = %+v, want %+v", got, want)
	}
}
