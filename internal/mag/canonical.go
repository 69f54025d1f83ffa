package mag

import "math"

// CanonicalizeRotation reorders a fitted rotation matrix so that each
// principal axis pairs with the sensor axis it most influences, keeping the
// per-axis vector (semi-axes or gains) in step with the column permutation.
// Eigendecomposition returns axes in eigenvalue order, which is arbitrary
// relative to the sensor frame; canonical form makes fits comparable run to
// run.
//
// Stages: the globally largest |entry| is moved onto the diagonal by a full
// column swap, the same rule is applied to the remaining 2x2 block (only the
// block's four entries move, the dominant row is already settled), and any
// column whose diagonal entry is negative is sign-flipped. Ties resolve to
// the first maximum in row-major scan order. Inputs are value types, so the
// function is pure, and a canonical matrix passes through unchanged.
func CanonicalizeRotation(axes [3]float64, rotation [3][3]float64) ([3]float64, [3][3]float64) {
	rm, cm := 0, 0
	best := math.Abs(rotation[0][0])
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if v := math.Abs(rotation[r][c]); v > best {
				best, rm, cm = v, r, c
			}
		}
	}
	if rm != cm {
		for r := 0; r < 3; r++ {
			rotation[r][rm], rotation[r][cm] = rotation[r][cm], rotation[r][rm]
		}
		axes[rm], axes[cm] = axes[cm], axes[rm]
	}

	var i0, i1 int
	switch rm {
	case 0:
		i0, i1 = 1, 2
	case 1:
		i0, i1 = 0, 2
	default:
		i0, i1 = 0, 1
	}

	block := [4]float64{
		math.Abs(rotation[i0][i0]), math.Abs(rotation[i0][i1]),
		math.Abs(rotation[i1][i0]), math.Abs(rotation[i1][i1]),
	}
	maxAt := 0
	for k := 1; k < len(block); k++ {
		if block[k] > block[maxAt] {
			maxAt = k
		}
	}
	if maxAt == 1 || maxAt == 2 {
		rotation[i0][i0], rotation[i0][i1] = rotation[i0][i1], rotation[i0][i0]
		rotation[i1][i0], rotation[i1][i1] = rotation[i1][i1], rotation[i1][i0]
		axes[i0], axes[i1] = axes[i1], axes[i0]
	}

	for k := 0; k < 3; k++ {
		if rotation[k][k] < 0 {
			for r := 0; r < 3; r++ {
				rotation[r][k] = -rotation[r][k]
			}
		}
	}
	return axes, rotation
}
