// Package export writes a scene's mesh as a binary glTF (GLB) container.
//
// Geometry compression uses KHR_mesh_quantization: positions are stored as
// signed shorts relative to the bounding box center and dequantized by the
// node's scale and translation, normals as normalized signed bytes, and
// indices as unsigned shorts when the vertex count allows it.
package export

import (
	"bytes"
	"time"

	"github.com/qmuntal/gltf"

	"refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/scene"
)

const (
	// ContentType of a GLB container.
	ContentType = "model/gltf-binary"

	ExtMeshQuantization = "KHR_mesh_quantization"
	ExtMaterialsUnlit   = "KHR_materials_unlit"

	// MaxCompressionLevel is the strongest quantization (11-bit positions).
	MaxCompressionLevel = 10
	// DefaultCompressionLevel matches the level the service always used.
	DefaultCompressionLevel = 10

	generator = "refinery"
)

// Options controls the exporter.
type Options struct {
	// CompressionLevel 0 stores raw float32/uint32 buffers. Levels 1..10
	// quantize positions to 16 - level/2 bits.
	CompressionLevel int
	// Name labels the mesh and node.
	Name string
}

// DefaultOptions returns the service defaults.
func DefaultOptions() Options {
	return Options{CompressionLevel: DefaultCompressionLevel}
}

// Exporter serializes scenes. It is stateless apart from its logger.
type Exporter struct {
	log *logger.Logger
}

// New creates an Exporter. A nil logger discards output.
func New(log *logger.Logger) *Exporter {
	if log == nil {
		log = logger.Discard()
	}
	return &Exporter{log: log.WithComponent("export")}
}

// Export builds the glTF document for s and packs it into a GLB container.
// A nil scene, a missing mesh or a mesh without triangles is EXPORT_FAILED.
func (e *Exporter) Export(s *scene.Scene, opts Options) ([]byte, error) {
	start := time.Now()
	if s == nil || s.Mesh == nil {
		return nil, errors.Export("scene has no mesh")
	}
	if s.Mesh.IsEmpty() {
		return nil, errors.Export("scene mesh has no triangles").
			WithField("vertices", s.Mesh.VertexCount())
	}
	if opts.CompressionLevel < 0 || opts.CompressionLevel > MaxCompressionLevel {
		return nil, errors.InvalidConfig("compression_level", "compression level must be between 0 and 10")
	}
	if err := s.Mesh.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeExport, "export.validate", "invalid mesh")
	}

	doc := buildDocument(s, opts)

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeExport, "export.encode", "encode glb")
	}

	e.log.Debug("scene exported",
		"vertices", s.Mesh.VertexCount(),
		"triangles", s.Mesh.TriangleCount(),
		"compression_level", opts.CompressionLevel,
		"bytes", buf.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// Export is a convenience wrapper around a discarding Exporter.
func Export(s *scene.Scene, opts Options) ([]byte, error) {
	return New(nil).Export(s, opts)
}

func buildDocument(s *scene.Scene, opts Options) *gltf.Document {
	m := s.Mesh
	name := opts.Name
	if name == "" {
		name = "mesh"
	}

	b := &bufferBuilder{}
	attrs := gltf.Attribute{}
	node := &gltf.Node{
		Name:     name,
		Mesh:     gltf.Index(0),
		Rotation: [4]float64{0, 0, 0, 1},
		Scale:    [3]float64{1, 1, 1},
	}

	doc := &gltf.Document{
		Asset: gltf.Asset{Version: "2.0", Generator: generator},
		ExtensionsUsed: []string{ExtMaterialsUnlit},
	}

	if opts.CompressionLevel > 0 {
		q := quantizePositions(m.Positions, positionBits(opts.CompressionLevel))
		attrs["POSITION"] = b.addAccessor(doc, q.accessor())
		node.Translation = [3]float64{float64(q.center[0]), float64(q.center[1]), float64(q.center[2])}
		node.Scale = [3]float64{float64(q.scale), float64(q.scale), float64(q.scale)}
		if m.HasNormals() {
			attrs["NORMAL"] = b.addAccessor(doc, quantizeNormals(m.Normals))
		}
		doc.ExtensionsUsed = append(doc.ExtensionsUsed, ExtMeshQuantization)
		doc.ExtensionsRequired = []string{ExtMeshQuantization}
	} else {
		attrs["POSITION"] = b.addAccessor(doc, floatPositions(m.Positions))
		if m.HasNormals() {
			attrs["NORMAL"] = b.addAccessor(doc, floatNormals(m.Normals))
		}
	}
	indices := b.addAccessor(doc, packIndices(m.Indices, len(m.Positions), opts.CompressionLevel > 0))

	c := s.Material.Color
	doc.Materials = []*gltf.Material{{
		Name: "preview",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{float64(c.R), float64(c.G), float64(c.B), 1},
			MetallicFactor:  gltf.Float(0),
			RoughnessFactor: gltf.Float(1),
		},
		DoubleSided: true,
		Extensions:  gltf.Extensions{ExtMaterialsUnlit: map[string]any{}},
	}}
	doc.Meshes = []*gltf.Mesh{{
		Name: name,
		Primitives: []*gltf.Primitive{{
			Attributes: attrs,
			Indices:    gltf.Index(indices),
			Material:   gltf.Index(0),
			Mode:       gltf.PrimitiveTriangles,
		}},
	}}
	doc.Nodes = []*gltf.Node{node}
	doc.Scenes = []*gltf.Scene{{Name: "scene", Nodes: []uint32{0}}}
	doc.Scene = gltf.Index(0)
	doc.Buffers = []*gltf.Buffer{{ByteLength: uint32(len(b.data)), Data: b.data}}
	return doc
}
