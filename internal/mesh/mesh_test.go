package mesh

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func triangle() *Mesh {
	return &Mesh{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Indices:   []uint32{0, 1, 2},
	}
}

func TestMesh_Counts(t *testing.T) {
	var nilMesh *Mesh
	assert.Equal(t, 0, nilMesh.VertexCount())
	assert.Equal(t, 0, nilMesh.TriangleCount())
	assert.True(t, nilMesh.IsEmpty())

	m := triangle()
	assert.Equal(t, 3, m.VertexCount())
	assert.Equal(t, 1, m.TriangleCount())
	assert.False(t, m.IsEmpty())
	assert.False(t, m.HasNormals())
}

func TestMesh_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Mesh)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Mesh) {}},
		{name: "index out of range", mutate: func(m *Mesh) { m.Indices[2] = 3 }, wantErr: true},
		{name: "partial triangle", mutate: func(m *Mesh) { m.Indices = append(m.Indices, 0) }, wantErr: true},
		{name: "normal count mismatch", mutate: func(m *Mesh) { m.Normals = []mgl32.Vec3{{0, 0, 1}} }, wantErr: true},
		{name: "nan vertex", mutate: func(m *Mesh) { m.Positions[1][0] = float32(math.NaN()) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := triangle()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	var nilMesh *Mesh
	assert.Error(t, nilMesh.Validate())
}

func TestMesh_Append(t *testing.T) {
	m := triangle()
	m.Normals = []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}}

	m.Append(triangle())

	assert.Equal(t, 6, m.VertexCount())
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, m.Indices)
	assert.Nil(t, m.Normals, "normals dropped when the appended mesh has none")
	require.NoError(t, m.Validate())
}

func TestMesh_FaceNormal(t *testing.T) {
	m := triangle()
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, m.FaceNormal(0))

	m.Positions[2] = mgl32.Vec3{2, 0, 0}
	assert.Equal(t, mgl32.Vec3{}, m.FaceNormal(0))
}

func TestBoundingBox(t *testing.T) {
	assert.True(t, EmptyBox().IsEmpty())
	assert.Equal(t, mgl32.Vec3{}, EmptyBox().Center())
	assert.Zero(t, EmptyBox().Diagonal())

	m := &Mesh{Positions: []mgl32.Vec3{{-1, -1, -1}, {1, 1, 1}}}
	b := m.Bounds()
	assert.Equal(t, mgl32.Vec3{}, b.Center())
	assert.InDelta(t, 2*math.Sqrt(3), b.Diagonal(), 1e-5)
	assert.InDelta(t, math.Sqrt(3), b.Radius(), 1e-5)
}

func TestBoundingBox_ContainsEveryVertex(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")
		coord := rapid.Float32Range(-1e4, 1e4)
		m := &Mesh{}
		for i := 0; i < n; i++ {
			m.Positions = append(m.Positions, mgl32.Vec3{coord.Draw(t, "x"), coord.Draw(t, "y"), coord.Draw(t, "z")})
		}

		b := m.Bounds()
		for _, p := range m.Positions {
			for i := 0; i < 3; i++ {
				if p[i] < b.Min[i] || p[i] > b.Max[i] {
					t.Fatalf("vertex %v outside box %v..%v", p, b.Min, b.Max)
				}
			}
		}
		if b.Diagonal() < 0 {
			t.Fatalf("negative diagonal %v", b.Diagonal())
		}
	})
}
