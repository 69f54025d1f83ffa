package mag

import (
	"math"
	"math/rand"
)

// EllipsoidPoints generates samples on the surface of an axis-aligned
// ellipsoid centred at (x0, y0, z0) with semi-axes (a, b, c), swept over an
// n-by-n spherical mesh. When noiseScale is non-zero a single Gaussian draw
// per mesh vertex is added to all three axes, which mirrors how a miscentred
// sensor perturbs a whole reading rather than one channel. Pass a seeded rng
// for reproducible fixtures.
func EllipsoidPoints(x0, y0, z0, a, b, c float64, n int, noiseScale float64, rng *rand.Rand) ([]Sample, error) {
	mesh, err := NewSphericalMesh(n)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var noise float64
			if noiseScale != 0 && rng != nil {
				noise = rng.NormFloat64() * noiseScale
			}
			sinPolar, cosPolar := math.Sincos(mesh.PolarAngle[i][j])
			sinAz, cosAz := math.Sincos(mesh.Azimuth[i][j])
			samples = append(samples, Sample{
				X: a*sinPolar*cosAz + x0 + noise,
				Y: b*sinPolar*sinAz + y0 + noise,
				Z: c*cosPolar + z0 + noise,
			})
		}
	}
	return samples, nil
}

// EulerRotation returns the rotation matrix for intrinsic yaw (about z),
// pitch (about y) and roll (about x), composed as Rz*Ry*Rx. Angles are in
// radians.
func EulerRotation(yaw, pitch, roll float64) [3][3]float64 {
	sy, cy := math.Sincos(yaw)
	sp, cp := math.Sincos(pitch)
	sr, cr := math.Sincos(roll)

	return [3][3]float64{
		{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr},
		{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr},
		{-sp, cp * sr, cp * cr},
	}
}

// RotateSample applies a rotation matrix to a sample vector.
func RotateSample(r [3][3]float64, s Sample) Sample {
	return Sample{
		X: r[0][0]*s.X + r[0][1]*s.Y + r[0][2]*s.Z,
		Y: r[1][0]*s.X + r[1][1]*s.Y + r[1][2]*s.Z,
		Z: r[2][0]*s.X + r[2][1]*s.Y + r[2][2]*s.Z,
	}
}
