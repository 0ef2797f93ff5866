package loader

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/pkg/errors"
)

func binarySTL(tris [][3]mgl32.Vec3) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, stlHeaderSize))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(tris)))
	for _, tri := range tris {
		_ = binary.Write(&buf, binary.LittleEndian, [3]float32{}) // zero normal, recomputed
		for _, v := range tri {
			_ = binary.Write(&buf, binary.LittleEndian, [3]float32{v[0], v[1], v[2]})
		}
		_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	}
	return buf.Bytes()
}

var unitTriangle = [3]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"stl", FormatSTL, false},
		{"STL", FormatSTL, false},
		{".obj", FormatOBJ, false},
		{" Obj ", FormatOBJ, false},
		{"fbx", FormatUnknown, true},
		{"", FormatUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.IsCode(err, errors.CodeUnsupportedFormat) {
				t.Errorf("expected UNSUPPORTED_FORMAT, got %s", errors.GetCode(err))
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatFromKey(t *testing.T) {
	f, err := FormatFromKey("uploads/user1/dragon.OBJ")
	if err != nil || f != FormatOBJ {
		t.Fatalf("FormatFromKey = %v, %v", f, err)
	}
	if _, err := FormatFromKey("uploads/readme"); !errors.IsCode(err, errors.CodeUnsupportedFormat) {
		t.Errorf("expected UNSUPPORTED_FORMAT for extensionless key, got %v", err)
	}
}

func TestLoadUnknownFormat(t *testing.T) {
	_, err := Load([]byte("anything"), Format(42))
	if !errors.IsCode(err, errors.CodeUnsupportedFormat) {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %v", err)
	}
}

func TestLoadBinarySTL(t *testing.T) {
	m, err := Load(binarySTL([][3]mgl32.Vec3{unitTriangle, unitTriangle}), FormatSTL)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TriangleCount() != 2 {
		t.Errorf("expected 2 triangles, got %d", m.TriangleCount())
	}
	if m.VertexCount() != 6 {
		t.Errorf("expected 6 vertices, got %d", m.VertexCount())
	}
	if !m.HasNormals() {
		t.Fatal("expected facet normals")
	}
	if n := m.Normals[0]; !n.ApproxEqual(mgl32.Vec3{0, 0, 1}) {
		t.Errorf("expected recomputed normal +Z, got %v", n)
	}
}

func TestLoadBinarySTLStartingWithSolid(t *testing.T) {
	data := binarySTL([][3]mgl32.Vec3{unitTriangle})
	copy(data, "solid exported-by-cad")
	m, err := Load(data, FormatSTL)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TriangleCount() != 1 {
		t.Errorf("expected 1 triangle, got %d", m.TriangleCount())
	}
}

func TestLoadTruncatedSTL(t *testing.T) {
	full := binarySTL([][3]mgl32.Vec3{unitTriangle, unitTriangle})
	tests := []struct {
		name string
		data []byte
	}{
		{"mid record", full[:len(full)-20]},
		{"header only", full[:40]},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data, FormatSTL)
			if !errors.IsCode(err, errors.CodeMalformedInput) {
				t.Fatalf("expected MALFORMED_INPUT, got %v", err)
			}
		})
	}
}

func TestLoadASCIISTL(t *testing.T) {
	src := `solid cube
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 0 1 0
    endloop
  endfacet
  facet normal 0 0 -1
    outer loop
      vertex 0 0 0
      vertex 0 1 0
      vertex 1 0 0
    endloop
  endfacet
endsolid cube
`
	m, err := Load([]byte(src), FormatSTL)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TriangleCount() != 2 {
		t.Fatalf("expected 2 triangles, got %d", m.TriangleCount())
	}
	if m.Normals[3] != (mgl32.Vec3{0, 0, -1}) {
		t.Errorf("expected second facet normal -Z, got %v", m.Normals[3])
	}
}

func TestLoadASCIISTLErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"two vertices", "solid x\nfacet normal 0 0 1\nouter loop\nvertex 0 0 0\nvertex 1 0 0\nendloop\nendfacet\nendsolid\n"},
		{"bad number", "solid x\nfacet normal 0 0 1\nouter loop\nvertex 0 zero 0\n"},
		{"unterminated", "solid x\nfacet normal 0 0 1\nouter loop\nvertex 0 0 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.src), FormatSTL)
			if !errors.IsCode(err, errors.CodeMalformedInput) {
				t.Fatalf("expected MALFORMED_INPUT, got %v", err)
			}
		})
	}
}

func TestLoadOBJQuad(t *testing.T) {
	src := `# unit quad
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
f 1 2 3 4
`
	m, err := Load([]byte(src), FormatOBJ)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TriangleCount() != 2 {
		t.Errorf("expected quad fan into 2 triangles, got %d", m.TriangleCount())
	}
	if m.VertexCount() != 4 {
		t.Errorf("expected 4 shared vertices, got %d", m.VertexCount())
	}
	if m.HasNormals() {
		t.Error("expected no normals when faces reference none")
	}
}

func TestLoadOBJIndexForms(t *testing.T) {
	src := `v 0 0 0
v 1 0 0
v 0 1 0
vt 0 0
vn 0 0 2
f 1/1/1 2/1/1 3/1/1
f -3//-1 -2//-1 -1//-1
`
	m, err := Load([]byte(src), FormatOBJ)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TriangleCount() != 2 {
		t.Fatalf("expected 2 triangles, got %d", m.TriangleCount())
	}
	if !m.HasNormals() {
		t.Fatal("expected normals")
	}
	if m.Normals[0] != (mgl32.Vec3{0, 0, 1}) {
		t.Errorf("expected normalized normal, got %v", m.Normals[0])
	}
	// Relative indices resolve to the same corners.
	for i := 0; i < 3; i++ {
		if m.Indices[i] != m.Indices[i+3] {
			t.Errorf("corner %d: absolute %d != relative %d", i, m.Indices[i], m.Indices[i+3])
		}
	}
}

func TestLoadOBJMergesObjects(t *testing.T) {
	src := `o a
v 0 0 0
v 1 0 0
v 0 1 0
f 1 2 3
g b
v 0 0 1
v 1 0 1
v 0 1 1
f 4 5 6
`
	m, err := Load([]byte(src), FormatOBJ)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.TriangleCount() != 2 || m.VertexCount() != 6 {
		t.Errorf("expected 2 triangles / 6 vertices, got %d / %d", m.TriangleCount(), m.VertexCount())
	}
	b := m.Bounds()
	if b.Max[2] != 1 {
		t.Errorf("expected merged bounds to reach z=1, got %v", b.Max)
	}
}

func TestLoadOBJErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"index out of range", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 9\n"},
		{"zero index", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 0 1 2\n"},
		{"too few corners", "v 0 0 0\nv 1 0 0\nf 1 2\n"},
		{"bad coordinate", "v 0 nan? 0\n"},
		{"short vertex", "v 1 2\n"},
		{"normal out of range", "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1//1 2//1 3//1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.src), FormatOBJ)
			if !errors.IsCode(err, errors.CodeMalformedInput) {
				t.Fatalf("expected MALFORMED_INPUT, got %v", err)
			}
		})
	}
}

func TestLoadOBJRejectsBinary(t *testing.T) {
	_, err := Load([]byte{0xff, 0xfe, 0x00, 0x01}, FormatOBJ)
	if !errors.IsCode(err, errors.CodeMalformedInput) {
		t.Fatalf("expected MALFORMED_INPUT, got %v", err)
	}
}

func TestLoadRejectsNonFinite(t *testing.T) {
	inf := float32(math.Inf(1))
	data := binarySTL([][3]mgl32.Vec3{{{0, 0, 0}, {inf, 0, 0}, {0, 1, 0}}})
	if _, err := Load(data, FormatSTL); !errors.IsCode(err, errors.CodeMalformedInput) {
		t.Fatalf("expected MALFORMED_INPUT, got %v", err)
	}
}
