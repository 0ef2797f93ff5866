package raster

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxPixels bounds the supersampled surface of one context.
	DefaultMaxPixels = 8192 * 8192
	// DefaultSupersample is the per-axis sample factor when antialiasing.
	DefaultSupersample = 2
)

// SoftwareProvider rasterizes on the CPU. It limits how many contexts can be
// live at once; Acquire blocks until one is free or ctx is done.
type SoftwareProvider struct {
	supersample int
	maxPixels   int
	slots       *semaphore.Weighted
}

// SoftwareOptions configures a SoftwareProvider.
type SoftwareOptions struct {
	MaxContexts int64
	Supersample int
	MaxPixels   int
}

// NewSoftwareProvider returns a provider with the given limits; zero values
// fall back to defaults.
func NewSoftwareProvider(opts SoftwareOptions) *SoftwareProvider {
	if opts.MaxContexts <= 0 {
		opts.MaxContexts = 1
	}
	if opts.Supersample <= 0 {
		opts.Supersample = DefaultSupersample
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &SoftwareProvider{
		supersample: opts.Supersample,
		maxPixels:   opts.MaxPixels,
		slots:       semaphore.NewWeighted(opts.MaxContexts),
	}
}

// Acquire implements ContextProvider.
func (p *SoftwareProvider) Acquire(ctx context.Context, opts ContextOptions) (Context, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", opts.Width, opts.Height)
	}
	ss := 1
	if opts.Antialias {
		ss = p.supersample
	}
	w, h := opts.Width*ss, opts.Height*ss
	if w*h > p.maxPixels || w*h <= 0 {
		return nil, fmt.Errorf("surface %dx%d exceeds %d pixels", w, h, p.maxPixels)
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for render slot: %w", err)
	}
	return &softwareContext{
		width:    opts.Width,
		height:   opts.Height,
		ss:       ss,
		preserve: opts.PreserveDrawingBuffer,
		color:    image.NewRGBA(image.Rect(0, 0, w, h)),
		depth:    newDepth(w * h),
		release:  func() { p.slots.Release(1) },
	}, nil
}

// softwareContext stores the color buffer in an image.RGBA whose row 0 is
// the bottom of the surface. Only ReadPixels exposes it, so the orientation
// never leaks.
type softwareContext struct {
	width, height int
	ss            int
	preserve      bool
	color         *image.RGBA
	depth         []float32
	releaseOnce   sync.Once
	release       func()
	clearColor    [4]uint8
}

func newDepth(n int) []float32 {
	d := make([]float32, n)
	for i := range d {
		d[i] = 1
	}
	return d
}

func (c *softwareContext) Size() (int, int) { return c.width, c.height }

func (c *softwareContext) Clear(col mgl32.Vec4) {
	c.clearColor = premultiply(col)
	c.clear()
}

func (c *softwareContext) clear() {
	pix := c.color.Pix
	for i := 0; i < len(pix); i += 4 {
		copy(pix[i:i+4], c.clearColor[:])
	}
	for i := range c.depth {
		c.depth[i] = 1
	}
}

func (c *softwareContext) Draw(b *Batch) error {
	if b == nil || b.Shade == nil {
		return fmt.Errorf("draw: batch has no shader")
	}
	if len(b.Indices)%3 != 0 {
		return fmt.Errorf("draw: index count %d is not a multiple of 3", len(b.Indices))
	}
	n := uint32(len(b.Vertices))
	for i := 0; i < len(b.Indices); i += 3 {
		i0, i1, i2 := b.Indices[i], b.Indices[i+1], b.Indices[i+2]
		if i0 >= n || i1 >= n || i2 >= n {
			return fmt.Errorf("draw: triangle %d references a missing vertex", i/3)
		}
		poly := clipNear([]Vertex{b.Vertices[i0], b.Vertices[i1], b.Vertices[i2]})
		for k := 1; k+1 < len(poly); k++ {
			c.triangle(poly[0], poly[k], poly[k+1], b.Shade)
		}
	}
	return nil
}

func (c *softwareContext) ReadPixels(dst []byte) error {
	if len(dst) < 4*c.width*c.height {
		return fmt.Errorf("read pixels: buffer holds %d bytes, need %d", len(dst), 4*c.width*c.height)
	}
	out := &image.RGBA{Pix: dst, Stride: 4 * c.width, Rect: image.Rect(0, 0, c.width, c.height)}
	if c.ss == 1 {
		copy(out.Pix, c.color.Pix)
	} else {
		draw.BiLinear.Scale(out, out.Rect, c.color, c.color.Bounds(), draw.Src, nil)
	}
	if !c.preserve {
		clear(c.color.Pix)
		for i := range c.depth {
			c.depth[i] = 1
		}
	}
	return nil
}

func (c *softwareContext) Release() {
	c.releaseOnce.Do(func() {
		c.color, c.depth = nil, nil
		if c.release != nil {
			c.release()
		}
	})
}

type screenVertex struct {
	x, y, z float32 // window coordinates, z in [0,1]
	invW    float32
	v       Vertex
}

func (c *softwareContext) toScreen(v Vertex) screenVertex {
	w := c.color.Rect.Dx()
	h := c.color.Rect.Dy()
	invW := 1 / v.Clip.W()
	return screenVertex{
		x:    (v.Clip.X()*invW*0.5 + 0.5) * float32(w),
		y:    (v.Clip.Y()*invW*0.5 + 0.5) * float32(h),
		z:    v.Clip.Z()*invW*0.5 + 0.5,
		invW: invW,
		v:    v,
	}
}

func edge(a, b screenVertex, px, py float32) float32 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

func (c *softwareContext) triangle(v0, v1, v2 Vertex, shade FragmentShader) {
	p0, p1, p2 := c.toScreen(v0), c.toScreen(v1), c.toScreen(v2)
	area := edge(p0, p1, p2.x, p2.y)
	if area == 0 || isNaN(area) || math.IsInf(float64(area), 0) {
		return
	}
	front := area > 0
	sign := float32(1)
	if !front {
		sign = -1
	}
	invArea := 1 / (area * sign)

	w, h := c.color.Rect.Dx(), c.color.Rect.Dy()
	minX, maxX := span(min(p0.x, p1.x, p2.x), max(p0.x, p1.x, p2.x), w)
	minY, maxY := span(min(p0.y, p1.y, p2.y), max(p0.y, p1.y, p2.y), h)

	for y := minY; y <= maxY; y++ {
		py := float32(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float32(x) + 0.5
			w0 := edge(p1, p2, px, py) * sign
			w1 := edge(p2, p0, px, py) * sign
			w2 := edge(p0, p1, px, py) * sign
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			b0, b1, b2 := w0*invArea, w1*invArea, w2*invArea
			z := b0*p0.z + b1*p1.z + b2*p2.z
			if z < 0 || z > 1 {
				continue
			}
			di := y*w + x
			if z >= c.depth[di] {
				continue
			}

			q0, q1, q2 := b0*p0.invW, b1*p1.invW, b2*p2.invW
			qs := 1 / (q0 + q1 + q2)
			q0, q1, q2 = q0*qs, q1*qs, q2*qs
			world := p0.v.World.Mul(q0).Add(p1.v.World.Mul(q1)).Add(p2.v.World.Mul(q2))
			normal := p0.v.Normal.Mul(q0).Add(p1.v.Normal.Mul(q1)).Add(p2.v.Normal.Mul(q2))

			col := shade(world, normal, front)
			if col.W() <= 0 {
				continue
			}
			c.depth[di] = z
			rgba := premultiply(col)
			copy(c.color.Pix[c.color.PixOffset(x, y):], rgba[:])
		}
	}
}

// clipNear clips a triangle against the near plane (z >= -w), returning a
// convex polygon of 0, 3 or 4 vertices.
func clipNear(tri []Vertex) []Vertex {
	inside := func(v Vertex) bool { return v.Clip.Z() >= -v.Clip.W() }
	if inside(tri[0]) && inside(tri[1]) && inside(tri[2]) {
		return tri
	}
	out := make([]Vertex, 0, 4)
	for i := range tri {
		a, b := tri[i], tri[(i+1)%len(tri)]
		ina, inb := inside(a), inside(b)
		if ina {
			out = append(out, a)
		}
		if ina != inb {
			da := a.Clip.Z() + a.Clip.W()
			db := b.Clip.Z() + b.Clip.W()
			out = append(out, lerpVertex(a, b, da/(da-db)))
		}
	}
	return out
}

func lerpVertex(a, b Vertex, t float32) Vertex {
	return Vertex{
		Clip:   a.Clip.Add(b.Clip.Sub(a.Clip).Mul(t)),
		World:  a.World.Add(b.World.Sub(a.World).Mul(t)),
		Normal: a.Normal.Add(b.Normal.Sub(a.Normal).Mul(t)),
	}
}

func premultiply(c mgl32.Vec4) [4]uint8 {
	a := clamp01(c.W())
	return [4]uint8{
		toByte(clamp01(c.X()) * a),
		toByte(clamp01(c.Y()) * a),
		toByte(clamp01(c.Z()) * a),
		toByte(a),
	}
}

func toByte(v float32) uint8 {
	return uint8(v*255 + 0.5)
}

func clamp01(v float32) float32 {
	if isNaN(v) {
		return 0
	}
	return max(0, min(1, v))
}

// span converts a float interval to the pixel range [lo, hi] it touches,
// clamped to [0, n-1] before any float-to-int conversion.
func span(lo, hi float32, n int) (int, int) {
	last := float32(n - 1)
	lo = max(0, min(last, floor32(lo)))
	hi = max(0, min(last, ceil32(hi)))
	return int(lo), int(hi)
}

func isNaN(v float32) bool { return v != v }

func floor32(v float32) float32 { return float32(math.Floor(float64(v))) }

func ceil32(v float32) float32 { return float32(math.Ceil(float64(v))) }
