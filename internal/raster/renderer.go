package raster

import (
	"context"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/camera"
	"refinery/internal/pkg/errors"
	"refinery/internal/pkg/logger"
	"refinery/internal/scene"
)

// Renderer draws scenes through the provider it was constructed with.
type Renderer struct {
	provider ContextProvider
	log      *logger.Logger
}

// NewRenderer creates a Renderer. A nil logger discards output.
func NewRenderer(provider ContextProvider, log *logger.Logger) *Renderer {
	if log == nil {
		log = logger.Discard()
	}
	return &Renderer{provider: provider, log: log.WithComponent("raster")}
}

// Render draws s as seen by cam into a width*height framebuffer in a single
// draw call. Acquisition failures are RENDER_CONTEXT errors; anything that
// goes wrong after that is RENDER_FAILED. The context is released on every
// path.
func (r *Renderer) Render(ctx context.Context, s *scene.Scene, cam camera.Camera, width, height int) (fb *FrameBuffer, err error) {
	if r.provider == nil {
		return nil, errors.RenderContext(nil, "no render context provider configured")
	}
	if s == nil {
		return nil, errors.Render(nil, "scene is nil")
	}
	start := time.Now()

	gl, err := r.provider.Acquire(ctx, ContextOptions{
		Width:                 width,
		Height:                height,
		PreserveDrawingBuffer: true,
		Antialias:             true,
	})
	if err != nil {
		return nil, errors.RenderContext(err, "acquire render context").
			WithField("width", width).
			WithField("height", height)
	}
	defer gl.Release()
	defer func() {
		if rec := recover(); rec != nil {
			fb, err = nil, errors.Render(fmt.Errorf("%v", rec), "rasterizer panicked")
		}
	}()

	if w, h := gl.Size(); w != width || h != height {
		return nil, errors.RenderContext(nil, fmt.Sprintf("context is %dx%d, want %dx%d", w, h, width, height))
	}

	bg := mgl32.Vec4{0, 0, 0, 0}
	if s.Background != nil {
		bg = s.Background.Vec3().Vec4(1)
	}
	gl.Clear(bg)

	triangles := 0
	if s.HasGeometry() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Render(err, "render cancelled")
		}
		batch := buildBatch(s, cam)
		triangles = len(batch.Indices) / 3
		if err := gl.Draw(batch); err != nil {
			return nil, errors.Render(err, "draw mesh")
		}
	}

	fb = NewFrameBuffer(width, height)
	if err := gl.ReadPixels(fb.Pix); err != nil {
		return nil, errors.Render(err, "read pixels")
	}

	r.log.Debug("frame rendered",
		"width", width,
		"height", height,
		"triangles", triangles,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return fb, nil
}

// buildBatch transforms the mesh to clip space. Meshes without normals are
// expanded to one vertex per corner so each face is shaded flat.
func buildBatch(s *scene.Scene, cam camera.Camera) *Batch {
	m := s.Mesh
	vp := cam.ViewProjection()
	b := &Batch{Shade: phongShader(s, cam.Position)}

	vertex := func(p, n mgl32.Vec3) Vertex {
		return Vertex{Clip: vp.Mul4x1(p.Vec4(1)), World: p, Normal: n}
	}

	if m.HasNormals() {
		b.Vertices = make([]Vertex, len(m.Positions))
		for i, p := range m.Positions {
			b.Vertices[i] = vertex(p, m.Normals[i])
		}
		b.Indices = m.Indices
		return b
	}

	tris := m.TriangleCount()
	b.Vertices = make([]Vertex, 0, 3*tris)
	b.Indices = make([]uint32, 0, 3*tris)
	for t := 0; t < tris; t++ {
		n := m.FaceNormal(t)
		for k := 0; k < 3; k++ {
			b.Indices = append(b.Indices, uint32(len(b.Vertices)))
			b.Vertices = append(b.Vertices, vertex(m.Positions[m.Indices[3*t+k]], n))
		}
	}
	return b
}
