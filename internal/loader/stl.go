package loader

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/mesh"
	"refinery/internal/pkg/errors"
)

const (
	stlHeaderSize = 80
	stlRecordSize = 50 // normal + 3 vertices (12 float32) + attribute word
)

func parseSTL(data []byte) (*mesh.Mesh, error) {
	if isBinarySTL(data) {
		return parseBinarySTL(data)
	}
	return parseASCIISTL(data)
}

// isBinarySTL follows the usual heuristic: a file whose size matches the
// triangle count in its header is binary even if it starts with "solid".
func isBinarySTL(data []byte) bool {
	if len(data) >= stlHeaderSize+4 {
		n := binary.LittleEndian.Uint32(data[stlHeaderSize:])
		if uint64(stlHeaderSize+4)+uint64(n)*stlRecordSize == uint64(len(data)) {
			return true
		}
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return !bytes.HasPrefix(trimmed, []byte("solid"))
}

func parseBinarySTL(data []byte) (*mesh.Mesh, error) {
	if len(data) < stlHeaderSize+4 {
		return nil, errors.MalformedInput("loader.stl", "binary stl shorter than its %d byte header", stlHeaderSize+4)
	}
	n := int(binary.LittleEndian.Uint32(data[stlHeaderSize:]))
	body := data[stlHeaderSize+4:]
	if uint64(n)*stlRecordSize > uint64(len(body)) {
		return nil, errors.MalformedInput("loader.stl", "binary stl declares %d triangles but holds %d bytes of records", n, len(body))
	}

	m := &mesh.Mesh{
		Positions: make([]mgl32.Vec3, 0, 3*n),
		Normals:   make([]mgl32.Vec3, 0, 3*n),
		Indices:   make([]uint32, 0, 3*n),
	}
	for t := 0; t < n; t++ {
		rec := body[t*stlRecordSize : (t+1)*stlRecordSize]
		normal := readVec3(rec[0:])
		var verts [3]mgl32.Vec3
		for v := 0; v < 3; v++ {
			verts[v] = readVec3(rec[12+12*v:])
		}
		addFacet(m, normal, verts)
	}
	return m, nil
}

func readVec3(b []byte) mgl32.Vec3 {
	return mgl32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(b[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
	}
}

// addFacet appends one unshared triangle. A missing or zero facet normal is
// recomputed from the winding.
func addFacet(m *mesh.Mesh, normal mgl32.Vec3, verts [3]mgl32.Vec3) {
	if l := normal.Len(); l == 0 || math.IsNaN(float64(l)) {
		normal = verts[1].Sub(verts[0]).Cross(verts[2].Sub(verts[0]))
		if l := normal.Len(); l > 0 {
			normal = normal.Mul(1 / l)
		}
	} else {
		normal = normal.Mul(1 / l)
	}
	base := uint32(len(m.Positions))
	for v := 0; v < 3; v++ {
		m.Positions = append(m.Positions, verts[v])
		m.Normals = append(m.Normals, normal)
		m.Indices = append(m.Indices, base+uint32(v))
	}
}

func parseASCIISTL(data []byte) (*mesh.Mesh, error) {
	m := &mesh.Mesh{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		lineNo   int
		inFacet  bool
		normal   mgl32.Vec3
		verts    [3]mgl32.Vec3
		nVerts   int
		sawSolid bool
	)
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "solid":
			sawSolid = true
		case "endsolid", "outer", "endloop":
		case "facet":
			if inFacet {
				return nil, errors.MalformedInput("loader.stl", "line %d: nested facet", lineNo)
			}
			if len(fields) != 5 || strings.ToLower(fields[1]) != "normal" {
				return nil, errors.MalformedInput("loader.stl", "line %d: expected 'facet normal x y z'", lineNo)
			}
			v, err := parseFloats3(fields[2:])
			if err != nil {
				return nil, errors.MalformedInput("loader.stl", "line %d: %v", lineNo, err)
			}
			inFacet, normal, nVerts = true, v, 0
		case "vertex":
			if !inFacet {
				return nil, errors.MalformedInput("loader.stl", "line %d: vertex outside facet", lineNo)
			}
			if len(fields) != 4 || nVerts == 3 {
				return nil, errors.MalformedInput("loader.stl", "line %d: malformed vertex", lineNo)
			}
			v, err := parseFloats3(fields[1:])
			if err != nil {
				return nil, errors.MalformedInput("loader.stl", "line %d: %v", lineNo, err)
			}
			verts[nVerts] = v
			nVerts++
		case "endfacet":
			if !inFacet || nVerts != 3 {
				return nil, errors.MalformedInput("loader.stl", "line %d: facet with %d vertices", lineNo, nVerts)
			}
			addFacet(m, normal, verts)
			inFacet = false
		default:
			return nil, errors.MalformedInput("loader.stl", "line %d: unexpected keyword %q", lineNo, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.MalformedInput("loader.stl", "read ascii stl: %v", err)
	}
	if !sawSolid {
		return nil, errors.MalformedInput("loader.stl", "missing 'solid' header")
	}
	if inFacet {
		return nil, errors.MalformedInput("loader.stl", "unterminated facet at end of input")
	}
	return m, nil
}

func parseFloats3(fields []string) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}
