// Package mag implements tri-axis magnetometer calibration: least-squares
// quadric surface fitting, rotation canonicalization, and spherical coverage
// tracking. The package is synchronous and carries no locks; callers own any
// synchronization around shared state.
package mag

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrMeshResolution is returned when a mesh or tracker is requested with a
// non-positive division count.
var ErrMeshResolution = fmt.Errorf("mesh resolution must be positive")

// SphericalMesh is an N-by-N grid over the orientation sphere built from the
// outer product of a polar-angle sweep [0, pi] and an azimuth sweep [-pi, pi].
// PolarAngle[i][j] varies with j and Azimuth[i][j] varies with i, so each
// (i, j) pair addresses one grid vertex. The mesh is immutable after
// construction.
type SphericalMesh struct {
	N          int
	PolarAngle [][]float64
	Azimuth    [][]float64
}

// NewSphericalMesh builds an n-by-n spherical mesh. It returns
// ErrMeshResolution when n is not positive.
func NewSphericalMesh(n int) (*SphericalMesh, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrMeshResolution, n)
	}

	polar := linspace(0, math.Pi, n)
	azimuth := linspace(-math.Pi, math.Pi, n)

	m := &SphericalMesh{
		N:          n,
		PolarAngle: make([][]float64, n),
		Azimuth:    make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		m.PolarAngle[i] = make([]float64, n)
		m.Azimuth[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			m.PolarAngle[i][j] = polar[j]
			m.Azimuth[i][j] = azimuth[i]
		}
	}
	return m, nil
}

// linspace returns n evenly spaced values from lo to hi inclusive.
func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// ToSpherical converts a Cartesian field vector to spherical coordinates:
// radius, polar angle in [0, pi] measured from +z, and azimuth in [-pi, pi]
// measured from +x toward +y. A zero vector returns all zeros; callers should
// treat r == 0 as unprojectable.
func ToSpherical(x, y, z float64) (r, polar, azimuth float64) {
	r = math.Sqrt(x*x + y*y + z*z)
	if r == 0 {
		return 0, 0, 0
	}
	return r, math.Acos(z / r), math.Atan2(y, x)
}
