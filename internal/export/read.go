package export

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"

	"refinery/internal/mesh"
	"refinery/internal/pkg/errors"
)

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbVersion   = 2
	chunkJSON    = 0x4E4F534A
	chunkBIN     = 0x004E4942
	glbHeaderLen = 12
	chunkHdrLen  = 8
)

// ContainerInfo is the parsed GLB header and chunk table.
type ContainerInfo struct {
	Version    uint32
	Length     uint32
	JSONLength uint32
	BinLength  uint32
	HasBin     bool
}

// Inspect validates the GLB header: magic, version, and that the declared
// total equals the header plus every chunk.
func Inspect(data []byte) (ContainerInfo, error) {
	var info ContainerInfo
	if len(data) < glbHeaderLen+chunkHdrLen {
		return info, errors.MalformedInput("export.inspect", "container is %d bytes, shorter than a GLB header", len(data))
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:]) != glbMagic {
		return info, errors.MalformedInput("export.inspect", "bad magic %q", data[0:4])
	}
	info.Version = le.Uint32(data[4:])
	info.Length = le.Uint32(data[8:])
	if info.Version != glbVersion {
		return info, errors.MalformedInput("export.inspect", "unsupported GLB version %d", info.Version)
	}
	if int(info.Length) != len(data) {
		return info, errors.MalformedInput("export.inspect", "header length %d, container is %d bytes", info.Length, len(data))
	}

	off := glbHeaderLen
	info.JSONLength = le.Uint32(data[off:])
	if le.Uint32(data[off+4:]) != chunkJSON {
		return info, errors.MalformedInput("export.inspect", "first chunk is not JSON")
	}
	off += chunkHdrLen + int(info.JSONLength)
	if off > len(data) {
		return info, errors.MalformedInput("export.inspect", "JSON chunk overruns container")
	}
	if off+chunkHdrLen <= len(data) {
		info.BinLength = le.Uint32(data[off:])
		if le.Uint32(data[off+4:]) != chunkBIN {
			return info, errors.MalformedInput("export.inspect", "second chunk is not BIN")
		}
		info.HasBin = true
		off += chunkHdrLen + int(info.BinLength)
	}
	if off != len(data) {
		return info, errors.MalformedInput("export.inspect", "chunks cover %d bytes, container is %d", off, len(data))
	}
	return info, nil
}

// Read decodes a GLB produced by Export back into a mesh, dequantizing
// positions through the mesh node's transform.
func Read(data []byte) (*mesh.Mesh, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, errors.MalformedInput("export.read", "decode glb: %v", err)
	}
	if len(doc.Meshes) == 0 || len(doc.Meshes[0].Primitives) == 0 {
		return nil, errors.MalformedInput("export.read", "document has no mesh primitive")
	}
	prim := doc.Meshes[0].Primitives[0]

	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, errors.MalformedInput("export.read", "primitive has no POSITION")
	}
	positions, err := readVec3(doc, int(posIdx))
	if err != nil {
		return nil, err
	}
	translate, rotate, scale := nodeTransform(doc, 0)
	for i, p := range positions {
		p = mgl32.Vec3{p[0] * scale[0], p[1] * scale[1], p[2] * scale[2]}
		positions[i] = rotate.Rotate(p).Add(translate)
	}
	m := &mesh.Mesh{Positions: positions}

	if nIdx, ok := prim.Attributes["NORMAL"]; ok {
		normals, err := readVec3(doc, int(nIdx))
		if err != nil {
			return nil, err
		}
		for i, n := range normals {
			normals[i] = rotate.Rotate(n)
		}
		m.Normals = normals
	}

	if prim.Indices != nil {
		if m.Indices, err = readIndices(doc, int(*prim.Indices)); err != nil {
			return nil, err
		}
	} else {
		m.Indices = make([]uint32, len(positions))
		for i := range m.Indices {
			m.Indices[i] = uint32(i)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, errors.MalformedInput("export.read", "%s", err.Error())
	}
	return m, nil
}

// nodeTransform finds the first node that instances mesh and returns its
// TRS, substituting defaults for omitted values.
func nodeTransform(doc *gltf.Document, meshIndex int) (mgl32.Vec3, mgl32.Quat, mgl32.Vec3) {
	t, r, s := mgl32.Vec3{}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1}
	for _, n := range doc.Nodes {
		if n.Mesh == nil || int(*n.Mesh) != meshIndex {
			continue
		}
		t = mgl32.Vec3{float32(n.Translation[0]), float32(n.Translation[1]), float32(n.Translation[2])}
		if n.Rotation != [4]float64{} {
			r = mgl32.Quat{
				W: float32(n.Rotation[3]),
				V: mgl32.Vec3{float32(n.Rotation[0]), float32(n.Rotation[1]), float32(n.Rotation[2])},
			}
		}
		if n.Scale != [3]float64{} {
			s = mgl32.Vec3{float32(n.Scale[0]), float32(n.Scale[1]), float32(n.Scale[2])}
		}
		break
	}
	return t, r, s
}

func componentSize(c gltf.ComponentType) int {
	switch c {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	default:
		return 4
	}
}

// accessorBytes returns the element slicing parameters for accessor i.
func accessorBytes(doc *gltf.Document, i int, components int) (buf []byte, base, stride, size int, acc *gltf.Accessor, err error) {
	if i < 0 || i >= len(doc.Accessors) {
		return nil, 0, 0, 0, nil, errors.MalformedInput("export.read", "accessor %d missing", i)
	}
	acc = doc.Accessors[i]
	if acc.BufferView == nil || int(*acc.BufferView) >= len(doc.BufferViews) {
		return nil, 0, 0, 0, nil, errors.MalformedInput("export.read", "accessor %d has no buffer view", i)
	}
	view := doc.BufferViews[*acc.BufferView]
	if int(view.Buffer) >= len(doc.Buffers) {
		return nil, 0, 0, 0, nil, errors.MalformedInput("export.read", "buffer %d missing", view.Buffer)
	}
	buf = doc.Buffers[view.Buffer].Data
	size = componentSize(acc.ComponentType)
	stride = int(view.ByteStride)
	if stride == 0 {
		stride = size * components
	}
	base = int(view.ByteOffset) + int(acc.ByteOffset)
	if count := int(acc.Count); count > 0 && base+(count-1)*stride+size*components > len(buf) {
		return nil, 0, 0, 0, nil, errors.MalformedInput("export.read", "accessor %d overruns its buffer", i)
	}
	return buf, base, stride, size, acc, nil
}

func readComponent(b []byte, c gltf.ComponentType, normalized bool) float32 {
	le := binary.LittleEndian
	switch c {
	case gltf.ComponentByte:
		v := float32(int8(b[0]))
		if normalized {
			return max(v/127, -1)
		}
		return v
	case gltf.ComponentUbyte:
		v := float32(b[0])
		if normalized {
			return v / 255
		}
		return v
	case gltf.ComponentShort:
		v := float32(int16(le.Uint16(b)))
		if normalized {
			return max(v/32767, -1)
		}
		return v
	case gltf.ComponentUshort:
		v := float32(le.Uint16(b))
		if normalized {
			return v / 65535
		}
		return v
	case gltf.ComponentUint:
		return float32(le.Uint32(b))
	default:
		return math.Float32frombits(le.Uint32(b))
	}
}

func readVec3(doc *gltf.Document, i int) ([]mgl32.Vec3, error) {
	buf, base, stride, size, acc, err := accessorBytes(doc, i, 3)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec3, int(acc.Count))
	for n := range out {
		off := base + n*stride
		for k := 0; k < 3; k++ {
			out[n][k] = readComponent(buf[off+k*size:], acc.ComponentType, acc.Normalized)
		}
	}
	return out, nil
}

func readIndices(doc *gltf.Document, i int) ([]uint32, error) {
	buf, base, stride, _, acc, err := accessorBytes(doc, i, 1)
	if err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	out := make([]uint32, int(acc.Count))
	for n := range out {
		b := buf[base+n*stride:]
		switch acc.ComponentType {
		case gltf.ComponentUbyte:
			out[n] = uint32(b[0])
		case gltf.ComponentUshort:
			out[n] = uint32(le.Uint16(b))
		case gltf.ComponentUint:
			out[n] = le.Uint32(b)
		default:
			return nil, errors.MalformedInput("export.read", "unsupported index component type %v", acc.ComponentType)
		}
	}
	return out, nil
}
