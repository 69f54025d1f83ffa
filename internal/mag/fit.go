package mag

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrTooFewSamples is returned when a sample set cannot determine the
	// requested strategy's coefficients.
	ErrTooFewSamples = fmt.Errorf("not enough samples to determine fit coefficients")
	// ErrNoConvergence is returned when the optimizer fails or exhausts its
	// iteration budget without settling.
	ErrNoConvergence = fmt.Errorf("fit optimizer did not converge")
	// ErrDegenerateFit is returned when converged coefficients do not
	// describe a real ellipsoid.
	ErrDegenerateFit = fmt.Errorf("fit produced a degenerate ellipsoid")
)

// Sample is one raw magnetometer reading in sensor counts or microtesla;
// the fit is unit-agnostic.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Strategy selects the quadric model fitted to the samples.
type Strategy string

const (
	// StrategySphere fits centre and a single radius (4 coefficients).
	StrategySphere Strategy = "sphere"
	// StrategyEllipsoid fits centre and per-axis radii with axes pinned to
	// the sensor frame (6 coefficients).
	StrategyEllipsoid Strategy = "ellipsoid"
	// StrategyEllipsoidRotated fits the full quadric including cross terms
	// (9 coefficients).
	StrategyEllipsoidRotated Strategy = "ellipsoid-rotated"
	// StrategyEllipsoidRotatedAlt fits the full quadric in a
	// trace-normalized basis that is better conditioned when the offset is
	// large relative to the field strength.
	StrategyEllipsoidRotatedAlt Strategy = "ellipsoid-rotated-alt"
)

// ValidStrategies lists the accepted fit strategies.
var ValidStrategies = []Strategy{
	StrategySphere,
	StrategyEllipsoid,
	StrategyEllipsoidRotated,
	StrategyEllipsoidRotatedAlt,
}

// ParseStrategy validates a strategy name from config, CLI or API input.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range ValidStrategies {
		if Strategy(name) == s {
			return s, nil
		}
	}
	names := make([]string, len(ValidStrategies))
	for i, s := range ValidStrategies {
		names[i] = string(s)
	}
	return "", fmt.Errorf("unknown fit strategy %q (valid: %s)", name, strings.Join(names, ", "))
}

// MinSamples returns the free coefficient count of a strategy, the minimum
// number of samples that can determine it.
func MinSamples(strategy Strategy) int {
	switch strategy {
	case StrategySphere:
		return 4
	case StrategyEllipsoid:
		return 6
	default:
		return 9
	}
}

// Calibration is the result of one fit: the hard-iron offset to subtract,
// the soft-iron matrix to multiply by, and the geometric decomposition the
// matrix was built from. Values are never mutated after return.
type Calibration struct {
	Strategy Strategy      `json:"strategy"`
	SoftIron [3][3]float64 `json:"soft_iron"`
	HardIron [3]float64    `json:"hard_iron"`
	SemiAxes [3]float64    `json:"semi_axes"`
	Rotation [3][3]float64 `json:"rotation"`
	// RMSE is the root mean squared deviation of the fitted quadric from 1
	// over the input samples.
	RMSE float64 `json:"rmse"`
}

// Apply corrects a raw sample: subtract the hard-iron offset, then multiply
// by the soft-iron matrix. A well-calibrated reading has norm near 1.
func (c *Calibration) Apply(s Sample) Sample {
	x := s.X - c.HardIron[0]
	y := s.Y - c.HardIron[1]
	z := s.Z - c.HardIron[2]
	return Sample{
		X: c.SoftIron[0][0]*x + c.SoftIron[0][1]*y + c.SoftIron[0][2]*z,
		Y: c.SoftIron[1][0]*x + c.SoftIron[1][1]*y + c.SoftIron[1][2]*z,
		Z: c.SoftIron[2][0]*x + c.SoftIron[2][1]*y + c.SoftIron[2][2]*z,
	}
}

// FitOptions tunes the optimizer budget.
type FitOptions struct {
	// MaxIterations caps BFGS major iterations; zero means
	// DefaultFitIterations.
	MaxIterations int
}

// DefaultFitIterations is the BFGS budget when FitOptions does not override
// it. The objective is quadratic in the coefficients, so well-posed inputs
// converge in far fewer.
const DefaultFitIterations = 300

// Fit least-squares fits the chosen quadric model to the samples and derives
// the calibration. The objective is the mean squared deviation of the fitted
// quadric from 1, minimized with BFGS from a data-driven initial guess.
// Sample sets smaller than MinSamples(strategy) return ErrTooFewSamples;
// optimizer failure returns ErrNoConvergence; coefficient sets that do not
// describe a real ellipsoid return ErrDegenerateFit.
func Fit(strategy Strategy, samples []Sample) (*Calibration, error) {
	return FitWithOptions(strategy, samples, FitOptions{})
}

// FitWithOptions is Fit with an explicit optimizer budget.
func FitWithOptions(strategy Strategy, samples []Sample, opts FitOptions) (*Calibration, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if min := MinSamples(strategy); len(samples) < min {
		return nil, fmt.Errorf("%w: %s needs %d samples, got %d", ErrTooFewSamples, strategy, min, len(samples))
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultFitIterations
	}

	switch strategy {
	case StrategySphere:
		return fitSphere(samples, opts)
	case StrategyEllipsoid:
		return fitEllipsoid(samples, opts)
	case StrategyEllipsoidRotated:
		return fitEllipsoidRotated(samples, opts)
	default:
		return fitEllipsoidRotatedAlt(samples, opts)
	}
}

// fitSphere solves a*(x^2+y^2+z^2) + 2g*x + 2h*y + 2i*z = 1.
func fitSphere(samples []Sample, opts FitOptions) (*Calibration, error) {
	terms := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for k, s := range samples {
		terms[k] = []float64{s.X*s.X + s.Y*s.Y + s.Z*s.Z, 2 * s.X, 2 * s.Y, 2 * s.Z}
		targets[k] = 1
	}

	x, rmse, err := minimizeQuadric(sphereGuess(samples), terms, targets, opts)
	if err != nil {
		return nil, err
	}
	a, g, h, i := x[0], x[1], x[2], x[3]
	if a == 0 {
		return nil, fmt.Errorf("%w: zero quadratic coefficient", ErrDegenerateFit)
	}

	offset := [3]float64{-g / a, -h / a, -i / a}
	norm := 1 + (g*g+h*h+i*i)/a
	gain, err := gainFromRatio(a, norm)
	if err != nil {
		return nil, err
	}
	semiAxes := [3]float64{1 / gain, 1 / gain, 1 / gain}
	rotation := identity3()
	return newCalibration(StrategySphere, offset, semiAxes, rotation, rmse), nil
}

// fitEllipsoid solves a*x^2 + b*y^2 + c*z^2 + 2g*x + 2h*y + 2i*z = 1.
func fitEllipsoid(samples []Sample, opts FitOptions) (*Calibration, error) {
	terms := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for k, s := range samples {
		terms[k] = []float64{s.X * s.X, s.Y * s.Y, s.Z * s.Z, 2 * s.X, 2 * s.Y, 2 * s.Z}
		targets[k] = 1
	}

	x, rmse, err := minimizeQuadric(axisAlignedGuess(samples), terms, targets, opts)
	if err != nil {
		return nil, err
	}
	a, b, c, g, h, i := x[0], x[1], x[2], x[3], x[4], x[5]
	if a == 0 || b == 0 || c == 0 {
		return nil, fmt.Errorf("%w: zero quadratic coefficient", ErrDegenerateFit)
	}

	offset := [3]float64{-g / a, -h / b, -i / c}
	norm := 1 + g*g/a + h*h/b + i*i/c
	var semiAxes [3]float64
	for k, coeff := range []float64{a, b, c} {
		gain, err := gainFromRatio(coeff, norm)
		if err != nil {
			return nil, err
		}
		semiAxes[k] = 1 / gain
	}
	rotation := identity3()
	return newCalibration(StrategyEllipsoid, offset, semiAxes, rotation, rmse), nil
}

// fitEllipsoidRotated solves the full nine-coefficient quadric and recovers
// the principal axes by eigendecomposition.
func fitEllipsoidRotated(samples []Sample, opts FitOptions) (*Calibration, error) {
	terms := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for k, s := range samples {
		terms[k] = []float64{
			s.X * s.X, s.Y * s.Y, s.Z * s.Z,
			2 * s.X * s.Y, 2 * s.X * s.Z, 2 * s.Y * s.Z,
			2 * s.X, 2 * s.Y, 2 * s.Z,
		}
		targets[k] = 1
	}

	guess := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}
	x, rmse, err := minimizeQuadric(guess, terms, targets, opts)
	if err != nil {
		return nil, err
	}
	coeffs := quadricCoeffs{
		a: x[0], b: x[1], c: x[2],
		d: x[3], e: x[4], f: x[5],
		g: x[6], h: x[7], i: x[8],
	}
	return calibrationFromCoeffs(StrategyEllipsoidRotated, coeffs, rmse)
}

// altBasisToQuadric converts the trace-normalized alt-basis solution,
// prefixed with the fixed -1/3 component, back to general quadric
// coefficients scaled by the homogeneous term.
var altBasisToQuadric = mat.NewDense(10, 10, []float64{
	3, 1, 1, 0, 0, 0, 0, 0, 0, 0,
	3, 1, -2, 0, 0, 0, 0, 0, 0, 0,
	3, -2, 1, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 2, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 1, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 1, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 1, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 1, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 1, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
})

// fitEllipsoidRotatedAlt fits the nine-term trace-normalized basis against
// x^2+y^2+z^2, then changes basis back to the general quadric before entering
// the same eigendecomposition pipeline as the rotated strategy.
func fitEllipsoidRotatedAlt(samples []Sample, opts FitOptions) (*Calibration, error) {
	terms := make([][]float64, len(samples))
	targets := make([]float64, len(samples))
	for k, s := range samples {
		terms[k] = []float64{
			s.X*s.X + s.Y*s.Y - 2*s.Z*s.Z,
			s.X*s.X - 2*s.Y*s.Y + s.Z*s.Z,
			4 * s.X * s.Y, 2 * s.X * s.Z, 2 * s.Y * s.Z,
			2 * s.X, 2 * s.Y, 2 * s.Z,
			1,
		}
		targets[k] = s.X*s.X + s.Y*s.Y + s.Z*s.Z
	}

	guess := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}
	u, rmse, err := minimizeQuadric(guess, terms, targets, opts)
	if err != nil {
		return nil, err
	}

	w := mat.NewVecDense(10, append([]float64{-1.0 / 3.0}, u...))
	var vd mat.VecDense
	vd.MulVec(altBasisToQuadric, w)
	scale := vd.AtVec(9)
	if math.Abs(scale) < degenerateEpsilon {
		return nil, fmt.Errorf("%w: alt basis scale term is zero", ErrDegenerateFit)
	}
	coeffs := quadricCoeffs{
		a: -vd.AtVec(0) / scale, b: -vd.AtVec(1) / scale, c: -vd.AtVec(2) / scale,
		d: -vd.AtVec(3) / scale, e: -vd.AtVec(4) / scale, f: -vd.AtVec(5) / scale,
		g: -vd.AtVec(6) / scale, h: -vd.AtVec(7) / scale, i: -vd.AtVec(8) / scale,
	}
	return calibrationFromCoeffs(StrategyEllipsoidRotatedAlt, coeffs, rmse)
}

// calibrationFromCoeffs runs the shared rotated pipeline: recover ellipsoid
// parameters, canonicalize the axis pairing, compose the soft-iron matrix.
func calibrationFromCoeffs(strategy Strategy, coeffs quadricCoeffs, rmse float64) (*Calibration, error) {
	offset, semiAxes, rotation, err := ellipsoidFromQuadric(coeffs)
	if err != nil {
		return nil, err
	}
	semiAxes, rotation = CanonicalizeRotation(semiAxes, rotation)
	return newCalibration(strategy, offset, semiAxes, rotation, rmse), nil
}

func newCalibration(strategy Strategy, offset, semiAxes [3]float64, rotation [3][3]float64, rmse float64) *Calibration {
	return &Calibration{
		Strategy: strategy,
		SoftIron: softIron(semiAxes, rotation),
		HardIron: offset,
		SemiAxes: semiAxes,
		Rotation: rotation,
		RMSE:     rmse,
	}
}

// gainFromRatio converts a quadratic coefficient and the shared
// normalization term into a per-axis gain, rejecting non-ellipsoid signs.
func gainFromRatio(coeff, norm float64) (float64, error) {
	if norm == 0 {
		return 0, fmt.Errorf("%w: zero normalization term", ErrDegenerateFit)
	}
	ratio := coeff / norm
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return 0, fmt.Errorf("%w: axis gain ratio %g is not positive", ErrDegenerateFit, ratio)
	}
	return math.Sqrt(ratio), nil
}

func identity3() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// minimizeQuadric BFGS-minimizes the mean squared residual of the design
// rows against their targets, returning the coefficient vector and the RMSE
// at the solution. The gradient is the exact derivative of the residual sum;
// the objective is quadratic in the coefficients, so the start point only
// affects iteration count.
func minimizeQuadric(initial []float64, terms [][]float64, targets []float64, opts FitOptions) ([]float64, float64, error) {
	objective := func(p []float64) float64 {
		var sum float64
		for k, row := range terms {
			r := floats.Dot(row, p) - targets[k]
			sum += r * r
		}
		return sum / float64(len(terms))
	}
	gradient := func(grad, p []float64) {
		for j := range grad {
			grad[j] = 0
		}
		for k, row := range terms {
			r := floats.Dot(row, p) - targets[k]
			floats.AddScaled(grad, 2*r/float64(len(terms)), row)
		}
	}

	problem := optimize.Problem{Func: objective, Grad: gradient}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	if statusErr := result.Status.Err(); statusErr != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNoConvergence, statusErr)
	}
	if math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, 0, fmt.Errorf("%w: objective diverged", ErrNoConvergence)
	}
	return result.X, math.Sqrt(result.F), nil
}
