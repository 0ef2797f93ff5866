// Package mesh holds the in-memory triangle mesh shared by every stage of
// the conversion pipeline, and the axis-aligned bounding box derived from it.
package mesh

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is an indexed triangle list. Normals are optional; when present there
// is exactly one per position.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
}

// VertexCount returns the number of positions.
func (m *Mesh) VertexCount() int {
	if m == nil {
		return 0
	}
	return len(m.Positions)
}

// TriangleCount returns len(Indices)/3.
func (m *Mesh) TriangleCount() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 3
}

// HasNormals reports whether the mesh carries one normal per vertex.
func (m *Mesh) HasNormals() bool {
	return m != nil && len(m.Normals) > 0 && len(m.Normals) == len(m.Positions)
}

// IsEmpty reports whether the mesh has no triangles to draw or export.
func (m *Mesh) IsEmpty() bool {
	return m.TriangleCount() == 0
}

// Validate checks the structural invariants: every index addresses a
// vertex, the index list is a whole number of triangles, and the normal
// list is either empty or parallel to the positions.
func (m *Mesh) Validate() error {
	if m == nil {
		return fmt.Errorf("mesh is nil")
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("index count %d is not a multiple of 3", len(m.Indices))
	}
	if len(m.Normals) != 0 && len(m.Normals) != len(m.Positions) {
		return fmt.Errorf("normal count %d does not match vertex count %d", len(m.Normals), len(m.Positions))
	}
	n := uint32(len(m.Positions))
	for i, idx := range m.Indices {
		if idx >= n {
			return fmt.Errorf("index %d at position %d out of range (vertex count %d)", idx, i, n)
		}
	}
	for i, p := range m.Positions {
		if !finite(p) {
			return fmt.Errorf("vertex %d is not finite", i)
		}
	}
	return nil
}

// Append merges other into m, rebasing its indices. Normals survive only if
// both meshes carry them.
func (m *Mesh) Append(other *Mesh) {
	if other == nil || len(other.Positions) == 0 {
		return
	}
	keepNormals := (len(m.Positions) == 0 || m.HasNormals()) && other.HasNormals()
	base := uint32(len(m.Positions))
	m.Positions = append(m.Positions, other.Positions...)
	if keepNormals {
		m.Normals = append(m.Normals, other.Normals...)
	} else {
		m.Normals = nil
	}
	for _, idx := range other.Indices {
		m.Indices = append(m.Indices, base+idx)
	}
}

// FaceNormal returns the unit normal of triangle t using counter-clockwise
// winding. Degenerate triangles yield the zero vector.
func (m *Mesh) FaceNormal(t int) mgl32.Vec3 {
	a := m.Positions[m.Indices[3*t]]
	b := m.Positions[m.Indices[3*t+1]]
	c := m.Positions[m.Indices[3*t+2]]
	n := b.Sub(a).Cross(c.Sub(a))
	if l := n.Len(); l > 0 {
		return n.Mul(1 / l)
	}
	return mgl32.Vec3{}
}

// Bounds computes the bounding box of all positions. Recompute it whenever
// the mesh changes; the box is never cached on the mesh.
func (m *Mesh) Bounds() BoundingBox {
	if m == nil {
		return EmptyBox()
	}
	b := EmptyBox()
	for _, p := range m.Positions {
		b = b.Extend(p)
	}
	return b
}

func finite(v mgl32.Vec3) bool {
	for _, c := range v {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
