package raster

import (
	"fmt"
	"image/color"
)

// FrameBuffer is a width*height premultiplied RGBA buffer, row-major with
// row 0 at the bottom of the image.
type FrameBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrameBuffer allocates a transparent buffer.
func NewFrameBuffer(width, height int) *FrameBuffer {
	return &FrameBuffer{Width: width, Height: height, Pix: make([]byte, 4*width*height)}
}

// Validate checks that Pix matches the dimensions.
func (fb *FrameBuffer) Validate() error {
	if fb == nil {
		return fmt.Errorf("framebuffer is nil")
	}
	if fb.Width <= 0 || fb.Height <= 0 {
		return fmt.Errorf("framebuffer size %dx%d", fb.Width, fb.Height)
	}
	if len(fb.Pix) != 4*fb.Width*fb.Height {
		return fmt.Errorf("framebuffer holds %d bytes, want %d", len(fb.Pix), 4*fb.Width*fb.Height)
	}
	return nil
}

// At returns the pixel in column x of row y, counting rows from the bottom.
func (fb *FrameBuffer) At(x, y int) color.RGBA {
	i := 4 * (y*fb.Width + x)
	return color.RGBA{R: fb.Pix[i], G: fb.Pix[i+1], B: fb.Pix[i+2], A: fb.Pix[i+3]}
}

// Set writes the pixel in column x of row y, counting rows from the bottom.
func (fb *FrameBuffer) Set(x, y int, c color.RGBA) {
	i := 4 * (y*fb.Width + x)
	fb.Pix[i], fb.Pix[i+1], fb.Pix[i+2], fb.Pix[i+3] = c.R, c.G, c.B, c.A
}

// Coverage counts pixels with non-zero alpha.
func (fb *FrameBuffer) Coverage() int {
	n := 0
	for i := 3; i < len(fb.Pix); i += 4 {
		if fb.Pix[i] != 0 {
			n++
		}
	}
	return n
}
