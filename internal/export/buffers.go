package export

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// encoded is one accessor's worth of packed data.
type encoded struct {
	componentType gltf.ComponentType
	accessorType  gltf.AccessorType
	normalized    bool
	count         int
	stride        int // 0 for tightly packed
	target        gltf.Target
	data          []byte
	min, max      []float64
}

// bufferBuilder appends 4-byte aligned buffer views to a single buffer.
type bufferBuilder struct {
	data []byte
}

func (b *bufferBuilder) addAccessor(doc *gltf.Document, e encoded) uint32 {
	for len(b.data)%4 != 0 {
		b.data = append(b.data, 0)
	}
	view := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: uint32(len(b.data)),
		ByteLength: uint32(len(e.data)),
		ByteStride: uint32(e.stride),
		Target:     e.target,
	}
	b.data = append(b.data, e.data...)
	doc.BufferViews = append(doc.BufferViews, view)
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    gltf.Index(uint32(len(doc.BufferViews) - 1)),
		ComponentType: e.componentType,
		Normalized:    e.normalized,
		Count:         uint32(e.count),
		Type:          e.accessorType,
		Min:           e.min,
		Max:           e.max,
	})
	return uint32(len(doc.Accessors) - 1)
}

// positionBits maps a compression level to the signed position bit depth.
func positionBits(level int) int {
	return 16 - level/2
}

type quantized struct {
	encoded
	center mgl32.Vec3
	scale  float32
}

func (q quantized) accessor() encoded { return q.encoded }

// quantizePositions stores p as round((p - center) / scale) in int16 slots
// padded to an 8 byte stride. The largest half-extent maps to 2^(bits-1)-1.
func quantizePositions(ps []mgl32.Vec3, bits int) quantized {
	qmax := float32(int(1)<<(bits-1) - 1)
	lo, hi := bounds(ps)
	center := lo.Add(hi).Mul(0.5)
	half := max(hi[0]-lo[0], hi[1]-lo[1], hi[2]-lo[2]) / 2
	if !(half > 0) {
		half = 1
	}
	scale := half / qmax

	data := make([]byte, 8*len(ps))
	qmin := [3]float64{math.MaxInt16, math.MaxInt16, math.MaxInt16}
	qmaxs := [3]float64{math.MinInt16, math.MinInt16, math.MinInt16}
	for i, p := range ps {
		for k := 0; k < 3; k++ {
			v := float32(math.Round(float64((p[k] - center[k]) / scale)))
			v = max(-qmax, min(qmax, v))
			binary.LittleEndian.PutUint16(data[8*i+2*k:], uint16(int16(v)))
			qmin[k] = math.Min(qmin[k], float64(v))
			qmaxs[k] = math.Max(qmaxs[k], float64(v))
		}
	}
	return quantized{
		encoded: encoded{
			componentType: gltf.ComponentShort,
			accessorType:  gltf.AccessorVec3,
			count:         len(ps),
			stride:        8,
			target:        gltf.TargetArrayBuffer,
			data:          data,
			min:           qmin[:],
			max:           qmaxs[:],
		},
		center: center,
		scale:  scale,
	}
}

// quantizeNormals stores unit normals as normalized signed bytes, 4 byte
// stride.
func quantizeNormals(ns []mgl32.Vec3) encoded {
	data := make([]byte, 4*len(ns))
	for i, n := range ns {
		for k := 0; k < 3; k++ {
			v := math.Round(float64(n[k]) * 127)
			v = math.Max(-127, math.Min(127, v))
			data[4*i+k] = byte(int8(v))
		}
	}
	return encoded{
		componentType: gltf.ComponentByte,
		accessorType:  gltf.AccessorVec3,
		normalized:    true,
		count:         len(ns),
		stride:        4,
		target:        gltf.TargetArrayBuffer,
		data:          data,
	}
}

func floatPositions(ps []mgl32.Vec3) encoded {
	e := floatVec3(ps)
	lo, hi := bounds(ps)
	e.min = []float64{float64(lo[0]), float64(lo[1]), float64(lo[2])}
	e.max = []float64{float64(hi[0]), float64(hi[1]), float64(hi[2])}
	return e
}

func floatNormals(ns []mgl32.Vec3) encoded {
	return floatVec3(ns)
}

func floatVec3(vs []mgl32.Vec3) encoded {
	data := make([]byte, 12*len(vs))
	for i, v := range vs {
		for k := 0; k < 3; k++ {
			binary.LittleEndian.PutUint32(data[12*i+4*k:], math.Float32bits(v[k]))
		}
	}
	return encoded{
		componentType: gltf.ComponentFloat,
		accessorType:  gltf.AccessorVec3,
		count:         len(vs),
		target:        gltf.TargetArrayBuffer,
		data:          data,
	}
}

// packIndices narrows to uint16 when allowed and every index fits.
func packIndices(idx []uint32, vertexCount int, narrow bool) encoded {
	e := encoded{
		accessorType: gltf.AccessorScalar,
		count:        len(idx),
		target:       gltf.TargetElementArrayBuffer,
	}
	if narrow && vertexCount <= math.MaxUint16 {
		e.componentType = gltf.ComponentUshort
		e.data = make([]byte, 2*len(idx))
		for i, v := range idx {
			binary.LittleEndian.PutUint16(e.data[2*i:], uint16(v))
		}
		return e
	}
	e.componentType = gltf.ComponentUint
	e.data = make([]byte, 4*len(idx))
	for i, v := range idx {
		binary.LittleEndian.PutUint32(e.data[4*i:], v)
	}
	return e
}

func bounds(ps []mgl32.Vec3) (lo, hi mgl32.Vec3) {
	if len(ps) == 0 {
		return lo, hi
	}
	lo, hi = ps[0], ps[0]
	for _, p := range ps[1:] {
		for k := 0; k < 3; k++ {
			lo[k] = min(lo[k], p[k])
			hi[k] = max(hi[k], p[k])
		}
	}
	return lo, hi
}
