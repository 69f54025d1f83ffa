package mag

import "fmt"

// ErrShapeMismatch is returned when the polar and azimuth arrays handed to
// MakeCells do not share the same square shape.
var ErrShapeMismatch = fmt.Errorf("polar and azimuth arrays must share a square shape")

// Vertex is one corner of a coverage cell in (polar, azimuth) space.
type Vertex struct {
	Polar   float64 `json:"polar"`
	Azimuth float64 `json:"azimuth"`
}

// Cell is a quadrilateral patch of sphere parameter space, wound from the
// top-left vertex of a 2x2 mesh neighborhood.
type Cell [4]Vertex

// Contains reports whether the point (polar, azimuth) falls inside the cell,
// using an even-odd ray crossing test. Points on the lower polar or azimuth
// edge of a cell count as inside and points on the upper edges count as
// outside, so a point interior to the mesh lands in exactly one cell.
func (c Cell) Contains(polar, azimuth float64) bool {
	inside := false
	j := len(c) - 1
	for i := 0; i < len(c); i++ {
		vi, vj := c[i], c[j]
		if (vi.Azimuth > azimuth) != (vj.Azimuth > azimuth) &&
			polar < (vj.Polar-vi.Polar)*(azimuth-vi.Azimuth)/(vj.Azimuth-vi.Azimuth)+vi.Polar {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Centroid returns the mean of the cell's four vertices.
func (c Cell) Centroid() Vertex {
	var v Vertex
	for i := range c {
		v.Polar += c[i].Polar
		v.Azimuth += c[i].Azimuth
	}
	v.Polar /= float64(len(c))
	v.Azimuth /= float64(len(c))
	return v
}

// MakeCells partitions an N-by-N mesh into (N-1)^2 quadrilateral cells, one
// per 2x2 neighborhood, wound (i,j) -> (i,j+1) -> (i+1,j+1) -> (i+1,j). The
// two arrays must have identical square shapes.
func MakeCells(polar, azimuth [][]float64) ([]Cell, error) {
	n := len(polar)
	if len(azimuth) != n {
		return nil, fmt.Errorf("%w: polar has %d rows, azimuth has %d", ErrShapeMismatch, n, len(azimuth))
	}
	for i := 0; i < n; i++ {
		if len(polar[i]) != len(azimuth[i]) {
			return nil, fmt.Errorf("%w: row %d lengths differ (%d vs %d)", ErrShapeMismatch, i, len(polar[i]), len(azimuth[i]))
		}
		if len(polar[i]) != n {
			return nil, fmt.Errorf("%w: %d rows but row %d has %d columns", ErrShapeMismatch, n, i, len(polar[i]))
		}
	}

	cells := make([]Cell, 0, (n-1)*(n-1))
	for i := 0; i < n-1; i++ {
		for j := 0; j < n-1; j++ {
			cells = append(cells, Cell{
				{Polar: polar[i][j], Azimuth: azimuth[i][j]},
				{Polar: polar[i][j+1], Azimuth: azimuth[i][j+1]},
				{Polar: polar[i+1][j+1], Azimuth: azimuth[i+1][j+1]},
				{Polar: polar[i+1][j], Azimuth: azimuth[i+1][j]},
			})
		}
	}
	return cells, nil
}
