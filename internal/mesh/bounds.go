package mesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BoundingBox is an axis-aligned box. The zero value is not empty; use
// EmptyBox to start an accumulation.
type BoundingBox struct {
	Min, Max mgl32.Vec3
}

// EmptyBox returns an inverted box that any Extend call will replace.
func EmptyBox() BoundingBox {
	inf := float32(math.Inf(1))
	return BoundingBox{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether the box encloses no point.
func (b BoundingBox) IsEmpty() bool {
	return b.Max[0] < b.Min[0] || b.Max[1] < b.Min[1] || b.Max[2] < b.Min[2]
}

// Extend returns the box grown to include p.
func (b BoundingBox) Extend(p mgl32.Vec3) BoundingBox {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
	return b
}

// Center is the midpoint of the box, or the origin for an empty box.
func (b BoundingBox) Center() mgl32.Vec3 {
	if b.IsEmpty() {
		return mgl32.Vec3{}
	}
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size is the extent along each axis, zero for an empty box.
func (b BoundingBox) Size() mgl32.Vec3 {
	if b.IsEmpty() {
		return mgl32.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Diagonal is the distance between the two extreme corners.
func (b BoundingBox) Diagonal() float32 {
	return b.Size().Len()
}

// Radius of the bounding sphere.
func (b BoundingBox) Radius() float32 {
	return b.Diagonal() / 2
}
