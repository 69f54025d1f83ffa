package mag

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestNewSphericalMesh_GoldenRow(t *testing.T) {
	// N=5 polar sweep must hit the exact quarter-turn stops.
	mesh, err := NewSphericalMesh(5)
	if err != nil {
		t.Fatalf("NewSphericalMesh(5) returned error: %v", err)
	}

	wantPolar := []float64{0, math.Pi / 4, math.Pi / 2, 3 * math.Pi / 4, math.Pi}
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if !approx(mesh.PolarAngle[i][j], wantPolar[j], 1e-12) {
				t.Errorf("PolarAngle[%d][%d] = %v, want %v", i, j, mesh.PolarAngle[i][j], wantPolar[j])
			}
		}
	}

	wantAzimuth := []float64{-math.Pi, -math.Pi / 2, 0, math.Pi / 2, math.Pi}
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if !approx(mesh.Azimuth[i][j], wantAzimuth[i], 1e-12) {
				t.Errorf("Azimuth[%d][%d] = %v, want %v", i, j, mesh.Azimuth[i][j], wantAzimuth[i])
			}
		}
	}
}

func TestNewSphericalMesh_InvalidResolution(t *testing.T) {
	for _, n := range []int{0, -1, -10} {
		if _, err := NewSphericalMesh(n); !errors.Is(err, ErrMeshResolution) {
			t.Errorf("NewSphericalMesh(%d) error = %v, want ErrMeshResolution", n, err)
		}
	}
}

func TestNewSphericalMesh_SingleDivision(t *testing.T) {
	mesh, err := NewSphericalMesh(1)
	if err != nil {
		t.Fatalf("NewSphericalMesh(1) returned error: %v", err)
	}
	if mesh.PolarAngle[0][0] != 0 {
		t.Errorf("PolarAngle[0][0] = %v, want 0", mesh.PolarAngle[0][0])
	}
	if mesh.Azimuth[0][0] != -math.Pi {
		t.Errorf("Azimuth[0][0] = %v, want -pi", mesh.Azimuth[0][0])
	}
}

func TestToSpherical(t *testing.T) {
	tests := []struct {
		name          string
		x, y, z       float64
		r, polar, azi float64
	}{
		{"north pole", 0, 0, 1, 1, 0, 0},
		{"south pole", 0, 0, -2, 2, math.Pi, 0},
		{"x axis", 1, 0, 0, 1, math.Pi / 2, 0},
		{"y axis", 0, 1, 0, 1, math.Pi / 2, math.Pi / 2},
		{"negative x", -3, 0, 0, 3, math.Pi / 2, math.Pi},
		{"zero vector", 0, 0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, polar, azi := ToSpherical(tt.x, tt.y, tt.z)
			if !approx(r, tt.r, 1e-12) || !approx(polar, tt.polar, 1e-12) || !approx(azi, tt.azi, 1e-12) {
				t.Errorf("ToSpherical(%v,%v,%v) = (%v,%v,%v), want (%v,%v,%v)",
					tt.x, tt.y, tt.z, r, polar, azi, tt.r, tt.polar, tt.azi)
			}
		})
	}
}

func TestEllipsoidPoints_NoiselessUnitSphere(t *testing.T) {
	samples, err := EllipsoidPoints(0, 0, 0, 1, 1, 1, 5, 0, nil)
	if err != nil {
		t.Fatalf("EllipsoidPoints returned error: %v", err)
	}
	if len(samples) != 25 {
		t.Fatalf("expected 25 samples, got %d", len(samples))
	}
	for k, s := range samples {
		norm := math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
		if !approx(norm, 1, 1e-12) {
			t.Errorf("sample %d has norm %v, want 1", k, norm)
		}
	}
}

func TestEllipsoidPoints_SharedNoisePerPoint(t *testing.T) {
	// The same Gaussian draw perturbs all three axes of one reading, so the
	// per-axis deviations from the clean surface must be identical.
	clean, err := EllipsoidPoints(10, -10, 15, 35, 45, 50, 8, 0, nil)
	if err != nil {
		t.Fatalf("clean generation failed: %v", err)
	}
	noisy, err := EllipsoidPoints(10, -10, 15, 35, 45, 50, 8, 2.5, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("noisy generation failed: %v", err)
	}

	sawNoise := false
	for k := range noisy {
		dx := noisy[k].X - clean[k].X
		dy := noisy[k].Y - clean[k].Y
		dz := noisy[k].Z - clean[k].Z
		if !approx(dx, dy, 1e-12) || !approx(dx, dz, 1e-12) {
			t.Fatalf("sample %d deviations differ across axes: %v %v %v", k, dx, dy, dz)
		}
		if dx != 0 {
			sawNoise = true
		}
	}
	if !sawNoise {
		t.Error("noise scale 2.5 produced no perturbation")
	}
}

func TestEllipsoidPoints_DeterministicWithSeed(t *testing.T) {
	a, err := EllipsoidPoints(1, 2, 3, 4, 5, 6, 6, 1, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("first generation failed: %v", err)
	}
	b, err := EllipsoidPoints(1, 2, 3, 4, 5, 6, 6, 1, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("second generation failed: %v", err)
	}
	for k := range a {
		if a[k] != b[k] {
			t.Fatalf("sample %d differs between identical seeds: %v vs %v", k, a[k], b[k])
		}
	}
}

func TestEulerRotation_Orthonormal(t *testing.T) {
	r := EulerRotation(30*math.Pi/180, 45*math.Pi/180, 25*math.Pi/180)

	// R * R^T must be the identity.
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
			if !approx(dot, want, 1e-12) {
				t.Errorf("(R*R^T)[%d][%d] = %v, want %v", i, j, dot, want)
			}
		}
	}

	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	if !approx(det, 1, 1e-12) {
		t.Errorf("det(R) = %v, want 1", det)
	}
}
