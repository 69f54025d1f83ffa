package mag

import "fmt"

// ErrPointNotCovered is returned when a projected sample falls outside every
// coverage cell, which means the point is outside the tracked parameter
// domain.
var ErrPointNotCovered = fmt.Errorf("point is not contained in any coverage cell")

// DefaultTrackerDivisions is the mesh resolution used when no override is
// configured.
const DefaultTrackerDivisions = 10

// Tracker records which regions of the orientation sphere have been sampled
// during a calibration run. An n-by-n mesh is partitioned into (n-1)^2 cells
// and each cell carries a flag that only ever transitions empty to sampled.
// The tracker is not synchronized; callers that share one own the locking.
type Tracker struct {
	mesh    *SphericalMesh
	cells   []Cell
	sampled []bool
}

// NewTracker builds a tracker over an n-by-n spherical mesh.
func NewTracker(n int) (*Tracker, error) {
	mesh, err := NewSphericalMesh(n)
	if err != nil {
		return nil, err
	}
	cells, err := MakeCells(mesh.PolarAngle, mesh.Azimuth)
	if err != nil {
		return nil, err
	}
	return &Tracker{mesh: mesh, cells: cells, sampled: make([]bool, len(cells))}, nil
}

// Divisions returns the mesh resolution the tracker was built with.
func (t *Tracker) Divisions() int {
	return t.mesh.N
}

// UpdateSinglePoint marks the first cell containing (polar, azimuth) as
// sampled, scanning cells in construction order. A point outside every cell
// returns ErrPointNotCovered and changes nothing.
func (t *Tracker) UpdateSinglePoint(polar, azimuth float64) error {
	for i, c := range t.cells {
		if c.Contains(polar, azimuth) {
			t.sampled[i] = true
			return nil
		}
	}
	return fmt.Errorf("%w: polar=%g azimuth=%g", ErrPointNotCovered, polar, azimuth)
}

// Update marks the containing cell for each point in turn, stopping at the
// first point outside the domain.
func (t *Tracker) Update(points [][2]float64) error {
	for _, p := range points {
		if err := t.UpdateSinglePoint(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns how many cells have been sampled.
func (t *Tracker) Count() int {
	n := 0
	for _, s := range t.sampled {
		if s {
			n++
		}
	}
	return n
}

// Percentage returns sampled coverage as a percentage of all cells.
func (t *Tracker) Percentage() float64 {
	if len(t.sampled) == 0 {
		return 0
	}
	return 100 * float64(t.Count()) / float64(len(t.sampled))
}

// Segments returns the coverage cells and their sampled flags for rendering.
// Both slices are copies.
func (t *Tracker) Segments() ([]Cell, []bool) {
	cells := make([]Cell, len(t.cells))
	copy(cells, t.cells)
	sampled := make([]bool, len(t.sampled))
	copy(sampled, t.sampled)
	return cells, sampled
}
