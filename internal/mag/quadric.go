package mag

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// quadricCoeffs holds the nine coefficients of the general quadric surface
//
//	a*x^2 + b*y^2 + c*z^2 + 2d*xy + 2e*xz + 2f*yz + 2g*x + 2h*y + 2i*z = 1
//
// Strategies that fit fewer parameters leave the unused coefficients zero.
type quadricCoeffs struct {
	a, b, c, d, e, f, g, h, i float64
}

// degenerateEpsilon bounds the homogeneous scale term away from zero before
// the recentred quadric is normalized by it.
const degenerateEpsilon = 1e-12

// ellipsoidFromQuadric recovers centre, semi-axes and principal-axis rotation
// from quadric coefficients. The homogeneous 4x4 form is recentred by
// conjugation with the translation to the quadric centre, rescaled so the
// constant term is -1, and eigendecomposed. Semi-axes come back in ascending
// eigenvalue order with eigenvectors as rotation rows; callers canonicalize
// the pairing. A singular coefficient block or a non-positive eigenvalue
// reports ErrDegenerateFit rather than clamping.
func ellipsoidFromQuadric(q quadricCoeffs) (offset, semiAxes [3]float64, rotation [3][3]float64, err error) {
	a3 := mat.NewSymDense(3, []float64{
		q.a, q.d, q.e,
		q.d, q.b, q.f,
		q.e, q.f, q.c,
	})

	// Centre: offset = -inv(A3) * [g h i].
	rhs := mat.NewVecDense(3, []float64{q.g, q.h, q.i})
	var centre mat.VecDense
	if solveErr := centre.SolveVec(a3, rhs); solveErr != nil {
		err = fmt.Errorf("%w: quadratic-term matrix is singular: %v", ErrDegenerateFit, solveErr)
		return
	}
	offset = [3]float64{-centre.AtVec(0), -centre.AtVec(1), -centre.AtVec(2)}

	a4 := mat.NewSymDense(4, []float64{
		q.a, q.d, q.e, q.g,
		q.d, q.b, q.f, q.h,
		q.e, q.f, q.c, q.i,
		q.g, q.h, q.i, -1,
	})
	translate := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		offset[0], offset[1], offset[2], 1,
	})

	var recentred mat.Dense
	recentred.Product(translate, a4, translate.T())

	scale := recentred.At(3, 3)
	if math.Abs(scale) < degenerateEpsilon {
		err = fmt.Errorf("%w: recentred quadric has zero scale term", ErrDegenerateFit)
		return
	}

	b3 := mat.NewSymDense(3, nil)
	for r := 0; r < 3; r++ {
		for c := r; c < 3; c++ {
			b3.SetSym(r, c, recentred.At(r, c)/-scale)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(b3, true) {
		err = fmt.Errorf("%w: eigendecomposition did not converge", ErrDegenerateFit)
		return
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	for k, v := range values {
		if v <= 0 {
			err = fmt.Errorf("%w: eigenvalue %d is %g, not positive", ErrDegenerateFit, k, v)
			return
		}
		semiAxes[k] = math.Sqrt(1 / v)
	}
	// Eigenvectors come out as columns; rotation rows are the principal axes.
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			rotation[r][c] = vectors.At(c, r)
		}
	}
	return offset, semiAxes, rotation, nil
}

// softIron composes the per-axis gains with a rotation into the soft-iron
// correction matrix diag(1/semiAxes) * rotation.
func softIron(semiAxes [3]float64, rotation [3][3]float64) [3][3]float64 {
	var m [3][3]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r][c] = rotation[r][c] / semiAxes[r]
		}
	}
	return m
}

// meanXYZ returns the per-axis means of a sample set.
func meanXYZ(samples []Sample) (mx, my, mz float64) {
	for _, s := range samples {
		mx += s.X
		my += s.Y
		mz += s.Z
	}
	n := float64(len(samples))
	return mx / n, my / n, mz / n
}

// halfRanges returns half the per-axis spans of a sample set, a cheap
// estimate of the ellipsoid semi-axes.
func halfRanges(samples []Sample) (rx, ry, rz float64) {
	minX, minY, minZ := math.Inf(1), math.Inf(1), math.Inf(1)
	maxX, maxY, maxZ := math.Inf(-1), math.Inf(-1), math.Inf(-1)
	for _, s := range samples {
		minX, maxX = math.Min(minX, s.X), math.Max(maxX, s.X)
		minY, maxY = math.Min(minY, s.Y), math.Max(maxY, s.Y)
		minZ, maxZ = math.Min(minZ, s.Z), math.Max(maxZ, s.Z)
	}
	return (maxX - minX) / 2, (maxY - minY) / 2, (maxZ - minZ) / 2
}

// sphereGuess seeds the sphere strategy from the data: centre from per-axis
// means, radius from the mean half-range, converted into quadric coefficient
// space. Falls back to the unit guess when the conversion denominator
// degenerates (a sphere passing near the origin).
func sphereGuess(samples []Sample) []float64 {
	x0, y0, z0 := meanXYZ(samples)
	rx, ry, rz := halfRanges(samples)
	r := (rx + ry + rz) / 3

	q := r*r - (x0*x0 + y0*y0 + z0*z0)
	if math.Abs(q) < 1e-9 {
		return []float64{1, 0, 0, 0}
	}
	return []float64{1 / q, -x0 / q, -y0 / q, -z0 / q}
}

// axisAlignedGuess seeds the axis-aligned ellipsoid strategy the same way,
// with per-axis radii instead of a single shared radius.
func axisAlignedGuess(samples []Sample) []float64 {
	x0, y0, z0 := meanXYZ(samples)
	rx, ry, rz := halfRanges(samples)
	if rx == 0 || ry == 0 || rz == 0 {
		return []float64{1, 1, 1, 0, 0, 0}
	}

	q := 1 - x0*x0/(rx*rx) - y0*y0/(ry*ry) - z0*z0/(rz*rz)
	if math.Abs(q) < 1e-9 {
		return []float64{1, 1, 1, 0, 0, 0}
	}
	return []float64{
		1 / (rx * rx * q), 1 / (ry * ry * q), 1 / (rz * rz * q),
		-x0 / (rx * rx * q), -y0 / (ry * ry * q), -z0 / (rz * rz * q),
	}
}
