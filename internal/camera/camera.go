// Package camera frames a perspective camera around a bounding box.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"refinery/internal/mesh"
)

const (
	// FieldOfView is the fixed vertical field of view in degrees.
	FieldOfView float32 = 36
	// MinExtent replaces a zero (or non-finite) bounding diagonal so that
	// near/far and the eye offset stay positive.
	MinExtent float32 = 1e-3
)

// Up is the z-up convention used by every preview.
var Up = mgl32.Vec3{0, 0, 1}

// Camera is a perspective camera looking at Target.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3
	FovY     float32 // degrees
	Aspect   float32
	Near     float32
	Far      float32
}

// Frame places the camera one diagonal length from the box center along
// (-1, -1, +1) per axis, looking at the center, with near = diagonal/3 and
// far = diagonal*3. It never fails: an empty or single-point box is framed
// as if its diagonal were MinExtent.
func Frame(box mesh.BoundingBox, width, height int) Camera {
	size := box.Diagonal()
	if !(size >= MinExtent) || math.IsInf(float64(size), 0) {
		size = MinExtent
	}
	aspect := float32(1)
	if width > 0 && height > 0 {
		aspect = float32(width) / float32(height)
	}
	center := box.Center()
	return Camera{
		Position: center.Add(mgl32.Vec3{-size, -size, size}),
		Target:   center,
		Up:       Up,
		FovY:     FieldOfView,
		Aspect:   aspect,
		Near:     size / 3,
		Far:      size * 3,
	}
}

// Distance from the eye to the target.
func (c Camera) Distance() float32 {
	return c.Position.Sub(c.Target).Len()
}

// View is the world-to-camera matrix.
func (c Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Target, c.Up)
}

// Projection is the camera-to-clip matrix (OpenGL clip space).
func (c Camera) Projection() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FovY), c.Aspect, c.Near, c.Far)
}

// ViewProjection is Projection * View.
func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}
