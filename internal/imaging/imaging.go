// Package imaging turns a rendered framebuffer into image files: a PNG with
// rows in top-down order, and a lossless WebP transcoded from that PNG.
package imaging

import (
	"bytes"
	"image"
	"image/png"

	"github.com/HugoSmits86/nativewebp"

	"refinery/internal/pkg/errors"
	"refinery/internal/raster"
)

const (
	ContentTypePNG  = "image/png"
	ContentTypeWebP = "image/webp"
)

// ToImage copies fb into a top-down image. Framebuffer row j (counted from
// the bottom) becomes image row height-1-j.
func ToImage(fb *raster.FrameBuffer) (*image.RGBA, error) {
	if err := fb.Validate(); err != nil {
		return nil, errors.Wrap(err, "imaging.flip", "invalid framebuffer")
	}
	w, h := fb.Width, fb.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := 4 * w
	for j := 0; j < h; j++ {
		src := fb.Pix[j*stride : (j+1)*stride]
		m := (h - 1 - j) * stride
		copy(img.Pix[m:m+stride], src)
	}
	return img, nil
}

// EncodePNG flips fb and encodes it as PNG.
func EncodePNG(fb *raster.FrameBuffer) ([]byte, error) {
	img, err := ToImage(fb)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "imaging.png", "encode png")
	}
	return buf.Bytes(), nil
}

// TranscodeWebP re-encodes PNG bytes as lossless WebP. It knows nothing about
// scenes; any PNG works.
func TranscodeWebP(pngData []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, errors.Wrap(err, "imaging.webp", "decode png")
	}
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return nil, errors.Wrap(err, "imaging.webp", "encode webp")
	}
	return buf.Bytes(), nil
}

// Encoded holds both raster outputs of one frame.
type Encoded struct {
	PNG  []byte
	WebP []byte
}

// Encode runs both passes.
func Encode(fb *raster.FrameBuffer) (*Encoded, error) {
	p, err := EncodePNG(fb)
	if err != nil {
		return nil, err
	}
	w, err := TranscodeWebP(p)
	if err != nil {
		return nil, err
	}
	return &Encoded{PNG: p, WebP: w}, nil
}
