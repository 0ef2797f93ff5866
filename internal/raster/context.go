// Package raster renders a scene into an offscreen framebuffer through an
// injected ContextProvider. The renderer holds no global state; each Render
// call acquires its own context and releases it before returning.
package raster

import (
	"context"

	"github.com/go-gl/mathgl/mgl32"
)

// ContextOptions describes the drawing surface to acquire.
type ContextOptions struct {
	Width  int
	Height int
	// PreserveDrawingBuffer keeps the color buffer readable after it has
	// been read once. Without it the buffer is cleared by ReadPixels.
	PreserveDrawingBuffer bool
	// Antialias lets the provider supersample the surface.
	Antialias bool
}

// Vertex is a clip-space position plus the varyings the fragment shader
// needs.
type Vertex struct {
	Clip   mgl32.Vec4
	World  mgl32.Vec3
	Normal mgl32.Vec3
}

// FragmentShader returns a straight-alpha RGBA color for one fragment.
// front reports whether the triangle is counter-clockwise on screen.
type FragmentShader func(world, normal mgl32.Vec3, front bool) mgl32.Vec4

// Batch is one indexed triangle draw call.
type Batch struct {
	Vertices []Vertex
	Indices  []uint32
	Shade    FragmentShader
}

// Context is a drawing surface with a bottom-left origin.
type Context interface {
	// Size returns the drawable size in output pixels.
	Size() (width, height int)
	// Clear fills the color buffer with a straight-alpha color and resets
	// depth.
	Clear(c mgl32.Vec4)
	// Draw rasterizes one batch with depth testing.
	Draw(b *Batch) error
	// ReadPixels copies width*height premultiplied RGBA pixels into dst,
	// row 0 being the bottom row.
	ReadPixels(dst []byte) error
	// Release returns the context to its provider. It is safe to call more
	// than once.
	Release()
}

// ContextProvider hands out drawing contexts.
type ContextProvider interface {
	Acquire(ctx context.Context, opts ContextOptions) (Context, error)
}
